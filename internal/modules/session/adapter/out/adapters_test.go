package out_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sessionout "biomon/internal/modules/session/adapter/out"
	"biomon/internal/modules/session/domain"
	apperrors "biomon/internal/platform/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// sealedSession replays the reference run: baseline GSR 90 / Pulse 70 / O2 97,
// then GSR 95 at 6s, Pulse 75 at 7s, a second GSR 100 at 8s and O2 96.5 at 9s.
func sealedSession(t *testing.T, subject domain.Subject) *domain.Session {
	t.Helper()
	s := domain.NewSession("sess-1", subject, domain.DefaultTiming(), nil)
	if err := s.Start(t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	lines := []struct {
		at   time.Duration
		text string
	}{
		{1 * time.Second, "GSR=90 raw"},
		{2 * time.Second, "Pulse:70"},
		{3 * time.Second, "O2:97%"},
		{4 * time.Second, "noise"},
		{6 * time.Second, "GSR=95 raw"},
		{7 * time.Second, "Pulse:75"},
		{8 * time.Second, "GSR=100 raw"},
		{9 * time.Second, "O2:96.5%"},
	}
	for _, l := range lines {
		if _, err := s.Ingest(l.text, t0.Add(l.at)); err != nil {
			t.Fatalf("ingest %q: %v", l.text, err)
		}
	}
	if s.Advance(t0.Add(15*time.Second)) != domain.PhaseSealed {
		t.Fatalf("expected sealed session")
	}
	return s
}

func readCSV(t *testing.T, payload []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestCSVExporterProcessedAlignsByLastObservation(t *testing.T) {
	t.Parallel()
	record := sealedSession(t, domain.Subject{Name: "Ada", Age: 30, Gender: "F"}).Record()
	buf := &bytes.Buffer{}
	if err := sessionout.NewCSVExporter().WriteProcessed(buf, record); err != nil {
		t.Fatalf("write processed: %v", err)
	}
	rows := readCSV(t, buf.Bytes())
	if got := strings.Join(rows[0], ","); got != "Athlete,Age,Gender,Timestamp,Time_Elapsed,GSR,Heart_Rate,Oxygen_Saturation,Baseline_GSR,Baseline_Heart_Rate,Baseline_Oxygen" {
		t.Fatalf("unexpected header %q", got)
	}
	if len(rows) != 3 {
		t.Fatalf("expected one row per active gsr sample, got %d rows", len(rows)-1)
	}
	first := rows[1]
	if first[0] != "Ada" || first[3] != "2026-03-01 09:00:06" || first[4] != "6.000" || first[5] != "95" {
		t.Fatalf("unexpected first row %v", first)
	}
	if first[6] != "" || first[7] != "" {
		t.Fatalf("pulse and oxygen must be empty before their first active sample, got %v", first)
	}
	second := rows[2]
	if second[5] != "100" || second[6] != "75" || second[7] != "" {
		t.Fatalf("unexpected second row %v", second)
	}
	if second[8] != "90" || second[9] != "70" || second[10] != "97" {
		t.Fatalf("baseline columns must repeat, got %v", second)
	}
}

func TestCSVExporterProcessedWithoutSubject(t *testing.T) {
	t.Parallel()
	record := sealedSession(t, domain.Subject{}).Record()
	buf := &bytes.Buffer{}
	if err := sessionout.NewCSVExporter().WriteProcessed(buf, record); err != nil {
		t.Fatalf("write processed: %v", err)
	}
	rows := readCSV(t, buf.Bytes())
	if rows[0][0] != "Timestamp" {
		t.Fatalf("subject columns must be omitted, got %v", rows[0])
	}
}

func TestCSVExporterSummaryAndRaw(t *testing.T) {
	t.Parallel()
	record := sealedSession(t, domain.Subject{}).Record()
	exporter := sessionout.NewCSVExporter()

	buf := &bytes.Buffer{}
	if err := exporter.WriteSummary(buf, record); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	rows := readCSV(t, buf.Bytes())
	if len(rows) != 4 || rows[1][0] != "GSR" || rows[2][0] != "Heart Rate" || rows[3][0] != "Oxygen Saturation" {
		t.Fatalf("unexpected summary rows %v", rows)
	}
	if rows[1][1] != "90" || rows[1][2] != "100" || rows[1][3] != "10" {
		t.Fatalf("unexpected gsr summary %v", rows[1])
	}

	buf.Reset()
	if err := exporter.WriteRaw(buf, record); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	rows = readCSV(t, buf.Bytes())
	if len(rows) != 9 {
		t.Fatalf("expected every received line, got %d", len(rows)-1)
	}
	if rows[4][2] != "noise" || rows[4][3] != "false" || rows[1][3] != "true" {
		t.Fatalf("unexpected raw rows %v", rows)
	}
}

func TestSQLiteHistoryStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := sessionout.NewSQLiteHistoryStore(filepath.Join(t.TempDir(), "db", "biomon.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	record := sealedSession(t, domain.Subject{Name: "Ada", Age: 30, Gender: "F"}).Record()
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("second save must replace: %v", err)
	}

	loaded, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.Summary.StartedAt.Equal(t0) || loaded.Summary.Duration != 15*time.Second || !loaded.Summary.Completed {
		t.Fatalf("unexpected summary %+v", loaded.Summary)
	}
	if loaded.Summary.Subject != record.Summary.Subject {
		t.Fatalf("subject mismatch: %+v", loaded.Summary.Subject)
	}
	if got := loaded.Summary.Metric(domain.MetricGSR); got.Baseline != 90 || got.Final != 100 || got.Count != 2 {
		t.Fatalf("unexpected gsr metric %+v", got)
	}
	if loaded.Baseline.Of(domain.MetricOxygen) != 97 {
		t.Fatalf("unexpected baseline %+v", loaded.Baseline)
	}
	if len(loaded.Series[domain.MetricGSR]) != 2 || loaded.Series[domain.MetricGSR][1].Offset != 8*time.Second {
		t.Fatalf("unexpected gsr series %+v", loaded.Series[domain.MetricGSR])
	}
	if len(loaded.Raw) != 8 || loaded.Raw[3].Parsed || loaded.Raw[3].Text != "noise" {
		t.Fatalf("unexpected raw lines %+v", loaded.Raw)
	}
	if len(loaded.Failures) != 1 || loaded.Failures[0].Line != "noise" {
		t.Fatalf("unexpected failures %+v", loaded.Failures)
	}

	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].SessionID != "sess-1" || len(list[0].Metrics) != 3 {
		t.Fatalf("unexpected list %+v", list)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReportStoreKeepsNotesOutsideSummaryBlock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := sessionout.NewReportStore(dir)
	summary := sealedSession(t, domain.Subject{Name: "Ada Lovelace"}).Summary()

	path, err := store.Save(context.Background(), summary)
	if err != nil {
		t.Fatalf("save report: %v", err)
	}
	if want := filepath.Join(dir, "2026", "03", "01", "090000-ada-lovelace.md"); path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	content := string(payload)
	if !strings.HasPrefix(content, "---\n") || !strings.Contains(content, "id: sess-1") {
		t.Fatalf("missing frontmatter:\n%s", content)
	}
	if !strings.Contains(content, "| GSR | 90.00 | 100.00 | +10.00 | +11.11% |") {
		t.Fatalf("missing summary table:\n%s", content)
	}

	if err := os.WriteFile(path, append(payload, []byte("\nSubject felt calm.\n")...), 0o644); err != nil {
		t.Fatalf("append note: %v", err)
	}
	if _, err := store.Save(context.Background(), summary); err != nil {
		t.Fatalf("resave report: %v", err)
	}
	payload, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(payload), "Subject felt calm.") {
		t.Fatalf("hand-written notes must survive a resave:\n%s", payload)
	}
	if strings.Count(string(payload), "<!-- biomon:summary:start -->") != 1 {
		t.Fatalf("summary block must be replaced, not duplicated:\n%s", payload)
	}
}

func TestReplayOpenerReadsCapture(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "capture.log")
	if err := os.WriteFile(path, []byte("GSR=90 a\r\nPulse:70\nO2:97%"), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	dev, err := sessionout.NewReplayOpener(0).Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open replay: %v", err)
	}
	defer dev.Close()

	var lines []string
	for i := 0; i < 6; i++ {
		line, ok, err := dev.ReadLine()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if ok {
			lines = append(lines, line)
		}
	}
	if strings.Join(lines, "|") != "GSR=90 a|Pulse:70|O2:97%" {
		t.Fatalf("unexpected replay lines %v", lines)
	}
	if _, err := sessionout.NewReplayOpener(0).Open(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing capture")
	}
}
