package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "biomon/internal/platform/errors"
)

const SchemaVersion = 1

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseBaseline Phase = "baseline"
	PhaseActive   Phase = "active"
	PhaseSealed   Phase = "sealed"
)

var (
	ErrSessionStarted    = errors.New("session already started")
	ErrSessionNotRunning = errors.New("session is not running")
	ErrSessionSealed     = errors.New("session is sealed")
	ErrStopped           = errors.New("stopped by operator")
)

// DeviceError marks a failure of the device channel. It always ends the run.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == apperrors.ErrDevice }

type Timing struct {
	Baseline time.Duration
	Reading  time.Duration
}

func DefaultTiming() Timing {
	return Timing{Baseline: 5 * time.Second, Reading: 10 * time.Second}
}

func (t Timing) Total() time.Duration {
	return t.Baseline + t.Reading
}

func (t Timing) Validate() error {
	if t.Baseline <= 0 {
		return fmt.Errorf("baseline duration must be positive")
	}
	if t.Reading <= 0 {
		return fmt.Errorf("reading duration must be positive")
	}
	return nil
}

// Subject is the optional athlete profile stamped on a session.
type Subject struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

func (s Subject) IsZero() bool {
	return strings.TrimSpace(s.Name) == "" && s.Age == 0 && strings.TrimSpace(s.Gender) == ""
}

func (s Subject) Validate() error {
	if s.IsZero() {
		return nil
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("subject name is required")
	}
	if s.Age < 0 || s.Age > 130 {
		return fmt.Errorf("subject age out of range: %d", s.Age)
	}
	return nil
}

// Update describes what one ingested line did to the session.
type Update struct {
	Raw            RawLine
	Sample         Sample
	Accepted       bool
	Failure        *ParseFailure
	Classification *Classification
	Phase          Phase
}

// Session is a single baseline+active monitoring run. It is not safe for
// concurrent use; the owner serializes Start, Advance, Ingest and Abort.
type Session struct {
	id         string
	subject    Subject
	timing     Timing
	classifier Classifier

	phase     Phase
	startedAt time.Time
	endedAt   time.Time
	elapsed   time.Duration

	pending  map[Metric][]float64
	baseline Baseline
	series   map[Metric][]Point
	timeAxis []time.Duration

	latest         map[Metric]Sample
	classification *Classification

	raw      []RawLine
	failures []ParseFailure
	lastErr  error
	summary  *Summary
}

func NewSession(id string, subject Subject, timing Timing, classifier Classifier) *Session {
	if classifier == nil {
		classifier = NewDeviationClassifier()
	}
	return &Session{
		id:         id,
		subject:    subject,
		timing:     timing,
		classifier: classifier,
		phase:      PhaseIdle,
		pending:    map[Metric][]float64{},
		series:     map[Metric][]Point{},
		latest:     map[Metric]Sample{},
	}
}

func (s *Session) Start(at time.Time) error {
	if s.phase != PhaseIdle || !s.startedAt.IsZero() {
		return ErrSessionStarted
	}
	s.startedAt = at
	s.phase = PhaseBaseline
	return nil
}

// Advance applies the time-driven transitions for the given instant and
// returns the resulting phase. Time never moves backwards.
func (s *Session) Advance(at time.Time) Phase {
	if s.phase != PhaseBaseline && s.phase != PhaseActive {
		return s.phase
	}
	if offset := at.Sub(s.startedAt); offset > s.elapsed {
		s.elapsed = offset
	}
	if s.phase == PhaseBaseline && s.elapsed >= s.timing.Baseline {
		s.closeBaseline()
		s.phase = PhaseActive
	}
	if s.phase == PhaseActive && s.elapsed >= s.timing.Total() {
		s.phase = PhaseSealed
		s.endedAt = s.startedAt.Add(s.timing.Total())
		summary := s.buildSummary(true)
		s.summary = &summary
	}
	return s.phase
}

// Ingest records a raw line received at the given instant and routes the parsed
// sample by phase. Parse failures are recorded and reported in the Update; they
// never return an error.
func (s *Session) Ingest(line string, at time.Time) (Update, error) {
	if s.phase == PhaseSealed {
		return Update{Phase: s.phase}, ErrSessionSealed
	}
	if s.phase == PhaseIdle {
		return Update{Phase: s.phase}, ErrSessionNotRunning
	}
	if s.Advance(at) == PhaseSealed {
		return Update{Phase: s.phase}, ErrSessionSealed
	}

	raw := RawLine{Text: line, Offset: s.elapsed, ReceivedAt: at}
	reading, err := ParseLine(line)
	if err != nil {
		var failure *ParseFailure
		if !errors.As(err, &failure) {
			failure = &ParseFailure{Line: line, Reason: err.Error()}
		}
		failure.Offset = s.elapsed
		s.raw = append(s.raw, raw)
		s.failures = append(s.failures, *failure)
		return Update{Raw: raw, Failure: failure, Phase: s.phase}, nil
	}

	raw.Parsed = true
	s.raw = append(s.raw, raw)
	sample := Sample{Metric: reading.Metric, Value: reading.Value, Offset: s.elapsed}
	s.latest[sample.Metric] = sample
	update := Update{Raw: raw, Sample: sample, Accepted: true, Phase: s.phase}

	switch s.phase {
	case PhaseBaseline:
		s.pending[sample.Metric] = append(s.pending[sample.Metric], sample.Value)
	case PhaseActive:
		s.series[sample.Metric] = append(s.series[sample.Metric], Point{Offset: sample.Offset, Value: sample.Value})
		if sample.Metric == MetricGSR {
			s.timeAxis = append(s.timeAxis, sample.Offset)
			c := s.classifier.Classify(sample.Value, s.baseline.Of(MetricGSR))
			s.classification = &c
			update.Classification = &c
		}
	}
	return update, nil
}

// Abort ends a running session early and returns it to Idle. Collected data is
// kept and the summary is frozen at the abort instant.
func (s *Session) Abort(at time.Time, cause error) {
	if s.phase != PhaseBaseline && s.phase != PhaseActive {
		return
	}
	if offset := at.Sub(s.startedAt); offset > s.elapsed {
		s.elapsed = offset
	}
	if s.baseline == nil {
		s.closeBaseline()
	}
	s.phase = PhaseIdle
	s.endedAt = s.startedAt.Add(s.elapsed)
	s.lastErr = cause
	summary := s.buildSummary(false)
	s.summary = &summary
}

func (s *Session) closeBaseline() {
	s.baseline = Baseline{}
	for _, m := range Metrics {
		s.baseline[m] = Mean(s.pending[m])
	}
}

func (s *Session) buildSummary(completed bool) Summary {
	summary := Summary{
		SessionID:   s.id,
		Subject:     s.subject,
		Policy:      s.classifier.Name(),
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		Duration:    s.endedAt.Sub(s.startedAt),
		DataPoints:  len(s.timeAxis),
		Completed:   completed,
		ParseErrors: len(s.failures),
		Metrics:     Summarize(s.Baseline(), s.series),
	}
	if s.lastErr != nil {
		summary.LastError = s.lastErr.Error()
	}
	return summary
}

// Summary returns the frozen summary once the session has ended, and a
// provisional one while it is still running.
func (s *Session) Summary() Summary {
	if s.summary != nil {
		return *s.summary
	}
	provisional := s.buildSummary(false)
	provisional.EndedAt = time.Time{}
	provisional.Duration = s.elapsed
	return provisional
}

// Ended reports whether the session was sealed or aborted.
func (s *Session) Ended() bool { return s.summary != nil }

func (s *Session) ID() string             { return s.id }
func (s *Session) Subject() Subject       { return s.subject }
func (s *Session) Timing() Timing         { return s.timing }
func (s *Session) Policy() string         { return s.classifier.Name() }
func (s *Session) Phase() Phase           { return s.phase }
func (s *Session) StartedAt() time.Time   { return s.startedAt }
func (s *Session) Elapsed() time.Duration { return s.elapsed }
func (s *Session) LastError() error       { return s.lastErr }

// TimeAxis holds one offset per active-phase GSR sample.
func (s *Session) TimeAxis() []time.Duration {
	return append([]time.Duration(nil), s.timeAxis...)
}

// Baseline returns the frozen per-metric means, or the running means while the
// baseline window is still open.
func (s *Session) Baseline() Baseline {
	if s.baseline != nil {
		out := Baseline{}
		for m, v := range s.baseline {
			out[m] = v
		}
		return out
	}
	out := Baseline{}
	for _, m := range Metrics {
		out[m] = Mean(s.pending[m])
	}
	return out
}

func (s *Session) BaselineFrozen() bool { return s.baseline != nil }

func (s *Session) Series(m Metric) []Point {
	return append([]Point(nil), s.series[m]...)
}

func (s *Session) Latest(m Metric) (Sample, bool) {
	sample, ok := s.latest[m]
	return sample, ok
}

func (s *Session) Classification() (Classification, bool) {
	if s.classification == nil {
		return Classification{}, false
	}
	return *s.classification, true
}

func (s *Session) Raw() []RawLine {
	return append([]RawLine(nil), s.raw...)
}

func (s *Session) Failures() []ParseFailure {
	return append([]ParseFailure(nil), s.failures...)
}

func (s *Session) Record() Record {
	series := map[Metric][]Point{}
	for _, m := range Metrics {
		series[m] = s.Series(m)
	}
	return Record{
		Summary:  s.Summary(),
		Baseline: s.Baseline(),
		Series:   series,
		Raw:      s.Raw(),
		Failures: s.Failures(),
	}
}
