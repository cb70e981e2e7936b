package dto

import "time"

type PortOutput struct {
	Name string `json:"name"`
}

type SubjectInput struct {
	Name   string
	Age    int
	Gender string
}

type StartInput struct {
	// Port is a serial device name, or a capture file path when Replay is set.
	Port    string
	Replay  bool
	Subject SubjectInput
}

type StartOutput struct {
	SessionID string    `json:"session_id"`
	Port      string    `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Baseline  string    `json:"baseline"`
	Reading   string    `json:"reading"`
	Policy    string    `json:"policy"`
}

type MetricReading struct {
	Metric   string  `json:"metric"`
	Label    string  `json:"label"`
	Unit     string  `json:"unit"`
	Value    float64 `json:"value"`
	HasValue bool    `json:"has_value"`
	Baseline float64 `json:"baseline"`
	Count    int     `json:"count"`
}

type Snapshot struct {
	SessionID      string          `json:"session_id"`
	Subject        SubjectOutput   `json:"subject"`
	Phase          string          `json:"phase"`
	Running        bool            `json:"running"`
	StartedAt      time.Time       `json:"started_at"`
	Elapsed        float64         `json:"elapsed_seconds"`
	Remaining      float64         `json:"remaining_seconds"`
	Progress       float64         `json:"progress"`
	Policy         string          `json:"policy"`
	Classification string          `json:"classification,omitempty"`
	Severity       int             `json:"severity"`
	Readings       []MetricReading `json:"readings"`
	RawTail        []string        `json:"raw_tail"`
	DataPoints     int             `json:"data_points"`
	ParseErrors    int             `json:"parse_errors"`
	LastError      string          `json:"last_error,omitempty"`
	Summary        *SummaryOutput  `json:"summary,omitempty"`
}

type SubjectOutput struct {
	Name   string `json:"name,omitempty"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

type MetricSummaryOutput struct {
	Metric        string  `json:"metric"`
	Label         string  `json:"label"`
	Baseline      float64 `json:"baseline"`
	Final         float64 `json:"final_reading"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
	Count         int     `json:"count"`
}

type SummaryOutput struct {
	SessionID   string                `json:"session_id"`
	Subject     SubjectOutput         `json:"subject"`
	Policy      string                `json:"policy"`
	StartedAt   time.Time             `json:"started_at"`
	EndedAt     time.Time             `json:"ended_at"`
	Duration    float64               `json:"duration_seconds"`
	DataPoints  int                   `json:"data_points"`
	Completed   bool                  `json:"completed"`
	ParseErrors int                   `json:"parse_errors"`
	LastError   string                `json:"last_error,omitempty"`
	Metrics     []MetricSummaryOutput `json:"metrics"`
}

type RunOutput struct {
	Summary    SummaryOutput `json:"summary"`
	ReportPath string        `json:"report_path,omitempty"`
	// Err carries the device error that ended the run early, if any.
	Err string `json:"error,omitempty"`
}

type ExportKind string

const (
	ExportProcessed ExportKind = "processed"
	ExportSummary   ExportKind = "summary"
	ExportRaw       ExportKind = "raw"
)

type ExportInput struct {
	// SessionID selects a stored session; empty exports the current one.
	SessionID string
	Kind      ExportKind
}

type ExportOutput struct {
	Filename string
	Content  []byte
}
