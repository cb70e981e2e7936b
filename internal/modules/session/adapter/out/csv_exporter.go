package out

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"biomon/internal/modules/session/domain"
	sessionout "biomon/internal/modules/session/port/out"
)

const timestampLayout = "2006-01-02 15:04:05"

type CSVExporter struct{}

func NewCSVExporter() sessionout.Exporter {
	return CSVExporter{}
}

// WriteProcessed writes one row per active GSR sample with pulse and oxygen
// aligned to it and the baseline means repeated on every row.
func (CSVExporter) WriteProcessed(w io.Writer, record domain.Record) error {
	subject := record.Summary.Subject
	withSubject := !subject.IsZero()

	header := []string{}
	if withSubject {
		header = append(header, "Athlete", "Age", "Gender")
	}
	header = append(header,
		"Timestamp", "Time_Elapsed", "GSR", "Heart_Rate", "Oxygen_Saturation",
		"Baseline_GSR", "Baseline_Heart_Rate", "Baseline_Oxygen",
	)

	rows := [][]string{header}
	for _, r := range record.Aligned() {
		row := []string{}
		if withSubject {
			row = append(row, subject.Name, strconv.Itoa(subject.Age), subject.Gender)
		}
		row = append(row,
			record.Summary.StartedAt.Add(r.Offset).Format(timestampLayout),
			seconds(r.Offset),
			number(r.GSR),
			optional(r.Pulse, r.HasPulse),
			optional(r.Oxygen, r.HasOxygen),
			number(record.Baseline.Of(domain.MetricGSR)),
			number(record.Baseline.Of(domain.MetricPulse)),
			number(record.Baseline.Of(domain.MetricOxygen)),
		)
		rows = append(rows, row)
	}
	return writeAll(w, rows)
}

func (CSVExporter) WriteSummary(w io.Writer, record domain.Record) error {
	rows := [][]string{{"Metric", "Baseline", "Final_Reading", "Change", "Percent_Change"}}
	for _, m := range domain.Metrics {
		ms := record.Summary.Metric(m)
		rows = append(rows, []string{
			m.Label(),
			number(ms.Baseline),
			number(ms.Final),
			number(ms.Change),
			number(ms.PercentChange),
		})
	}
	return writeAll(w, rows)
}

// WriteRaw writes every received line, parsed or not, in arrival order.
func (CSVExporter) WriteRaw(w io.Writer, record domain.Record) error {
	rows := [][]string{{"Timestamp", "Time_Elapsed", "Raw_Data", "Parsed"}}
	for _, line := range record.Raw {
		rows = append(rows, []string{
			line.ReceivedAt.Format(timestampLayout),
			seconds(line.Offset),
			line.Text,
			strconv.FormatBool(line.Parsed),
		})
	}
	return writeAll(w, rows)
}

func writeAll(w io.Writer, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optional(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return number(v)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
