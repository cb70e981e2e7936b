package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Metric string

const (
	MetricGSR    Metric = "GSR"
	MetricPulse  Metric = "Pulse"
	MetricOxygen Metric = "Oxygen"
)

// Metrics is the fixed display and export order.
var Metrics = []Metric{MetricGSR, MetricPulse, MetricOxygen}

func (m Metric) Validate() error {
	switch m {
	case MetricGSR, MetricPulse, MetricOxygen:
		return nil
	default:
		return fmt.Errorf("unknown metric: %s", m)
	}
}

func (m Metric) Label() string {
	switch m {
	case MetricPulse:
		return "Heart Rate"
	case MetricOxygen:
		return "Oxygen Saturation"
	default:
		return string(m)
	}
}

func (m Metric) Unit() string {
	switch m {
	case MetricGSR:
		return "µS"
	case MetricPulse:
		return "BPM"
	case MetricOxygen:
		return "%"
	default:
		return ""
	}
}

const (
	prefixGSR    = "GSR="
	prefixPulse  = "Pulse:"
	prefixOxygen = "O2:"
)

// Reading is a parsed line before the session stamps it with an offset.
type Reading struct {
	Metric Metric
	Value  float64
}

// Sample is a reading placed on the session timeline.
type Sample struct {
	Metric Metric
	Value  float64
	Offset time.Duration
}

// RawLine is kept verbatim for audit and raw export.
type RawLine struct {
	Text       string
	Offset     time.Duration
	ReceivedAt time.Time
	Parsed     bool
}

type ParseFailure struct {
	Line   string
	Reason string
	Offset time.Duration
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("parse %q: %s", f.Line, f.Reason)
}

// ParseLine decodes one device line. Unrecognized or malformed input returns a
// *ParseFailure and never panics.
func ParseLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, prefixGSR):
		fields := strings.Fields(field(line, "="))
		if len(fields) == 0 {
			return Reading{}, &ParseFailure{Line: line, Reason: "missing GSR value"}
		}
		v, err := strconv.Atoi(fields[0])
		if err != nil {
			return Reading{}, &ParseFailure{Line: line, Reason: fmt.Sprintf("invalid GSR value %q", fields[0])}
		}
		return Reading{Metric: MetricGSR, Value: float64(v)}, nil

	case strings.HasPrefix(line, prefixPulse):
		raw := strings.TrimSpace(field(line, ":"))
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Reading{}, &ParseFailure{Line: line, Reason: fmt.Sprintf("invalid pulse value %q", raw)}
		}
		return Reading{Metric: MetricPulse, Value: float64(v)}, nil

	case strings.HasPrefix(line, prefixOxygen):
		raw := strings.TrimSpace(strings.ReplaceAll(field(line, ":"), "%", ""))
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Reading{}, &ParseFailure{Line: line, Reason: fmt.Sprintf("invalid oxygen value %q", raw)}
		}
		return Reading{Metric: MetricOxygen, Value: v}, nil

	default:
		return Reading{}, &ParseFailure{Line: line, Reason: "unrecognized line"}
	}
}

// field returns the text between the first and second occurrence of sep.
func field(line, sep string) string {
	parts := strings.SplitN(line, sep, 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
