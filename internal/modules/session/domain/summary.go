package domain

import "time"

// Mean returns 0 for an empty set.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PercentChange returns 0 when the baseline is 0.
func PercentChange(final, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (final - baseline) / baseline * 100
}

type Baseline map[Metric]float64

func (b Baseline) Of(m Metric) float64 {
	if b == nil {
		return 0
	}
	return b[m]
}

type Point struct {
	Offset time.Duration
	Value  float64
}

type MetricSummary struct {
	Metric        Metric
	Baseline      float64
	Final         float64
	Change        float64
	PercentChange float64
	Count         int
}

type Summary struct {
	SessionID   string
	Subject     Subject
	Policy      string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
	DataPoints  int
	Completed   bool
	ParseErrors int
	LastError   string
	Metrics     []MetricSummary
}

func (s Summary) Metric(m Metric) MetricSummary {
	for _, ms := range s.Metrics {
		if ms.Metric == m {
			return ms
		}
	}
	return MetricSummary{Metric: m}
}

// Summarize builds one row per metric in Metrics order. A metric with no
// active samples reports a final reading of 0.
func Summarize(baseline Baseline, series map[Metric][]Point) []MetricSummary {
	out := make([]MetricSummary, 0, len(Metrics))
	for _, m := range Metrics {
		points := series[m]
		final := 0.0
		if len(points) > 0 {
			final = points[len(points)-1].Value
		}
		base := baseline.Of(m)
		out = append(out, MetricSummary{
			Metric:        m,
			Baseline:      base,
			Final:         final,
			Change:        final - base,
			PercentChange: PercentChange(final, base),
			Count:         len(points),
		})
	}
	return out
}

// Record is the immutable export view of a session, either live or loaded
// from history.
type Record struct {
	Summary  Summary
	Baseline Baseline
	Series   map[Metric][]Point
	Raw      []RawLine
	Failures []ParseFailure
}

// AlignedRow is one processed-export row keyed on a GSR arrival.
type AlignedRow struct {
	Offset    time.Duration
	GSR       float64
	Pulse     float64
	HasPulse  bool
	Oxygen    float64
	HasOxygen bool
}

// Aligned joins the pulse and oxygen series onto the GSR time axis using the
// last observation at or before each GSR offset. Series are never truncated
// by position.
func (r Record) Aligned() []AlignedRow {
	axis := r.Series[MetricGSR]
	pulse := r.Series[MetricPulse]
	oxygen := r.Series[MetricOxygen]
	rows := make([]AlignedRow, 0, len(axis))
	pi, oi := 0, 0
	for _, p := range axis {
		row := AlignedRow{Offset: p.Offset, GSR: p.Value}
		for pi < len(pulse) && pulse[pi].Offset <= p.Offset {
			pi++
		}
		if pi > 0 {
			row.Pulse, row.HasPulse = pulse[pi-1].Value, true
		}
		for oi < len(oxygen) && oxygen[oi].Offset <= p.Offset {
			oi++
		}
		if oi > 0 {
			row.Oxygen, row.HasOxygen = oxygen[oi-1].Value, true
		}
		rows = append(rows, row)
	}
	return rows
}
