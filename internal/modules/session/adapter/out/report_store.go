package out

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"biomon/internal/modules/session/domain"
	sessionout "biomon/internal/modules/session/port/out"
	"biomon/internal/platform/markdown"
	"biomon/internal/platform/slug"
)

var summaryBlock = markdown.Block{Name: "biomon:summary"}

// ReportStore writes one markdown note per session under
// <dir>/YYYY/MM/DD/HHMMSS-<subject>.md. Saving the same session again only
// rewrites the frontmatter and the generated summary block, so notes added
// by hand survive.
type ReportStore struct {
	dir string
}

func NewReportStore(dir string) sessionout.ReportStore {
	return &ReportStore{dir: dir}
}

func (s *ReportStore) Save(_ context.Context, summary domain.Summary) (string, error) {
	date := summary.StartedAt
	dir := filepath.Join(s.dir, date.Format("2006"), date.Format("01"), date.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.md", date.Format("150405"), slug.Make(summary.Subject.Name, "session")))

	note := markdown.Note{Body: fmt.Sprintf("# Session %s\n", summary.SessionID)}
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		note, err = markdown.ParseNote(string(existing))
		if err != nil {
			return "", fmt.Errorf("read report %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read report: %w", err)
	}
	note.Body = summaryBlock.Replace(note.Body, renderSummary(summary))

	meta := map[string]any{
		"schema_version":   domain.SchemaVersion,
		"id":               summary.SessionID,
		"policy":           summary.Policy,
		"started_at":       summary.StartedAt.Format(time.RFC3339),
		"ended_at":         summary.EndedAt.Format(time.RFC3339),
		"duration_seconds": summary.Duration.Seconds(),
		"data_points":      summary.DataPoints,
		"completed":        summary.Completed,
		"parse_errors":     summary.ParseErrors,
	}
	if !summary.Subject.IsZero() {
		meta["subject"] = map[string]any{
			"name":   summary.Subject.Name,
			"age":    summary.Subject.Age,
			"gender": summary.Subject.Gender,
		}
	}
	if summary.LastError != "" {
		meta["last_error"] = summary.LastError
	}
	note.Merge(meta)
	rendered, err := note.Render()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func renderSummary(summary domain.Summary) string {
	b := strings.Builder{}
	status := "completed"
	if !summary.Completed {
		status = "ended early"
	}
	fmt.Fprintf(&b, "- Status: %s\n", status)
	fmt.Fprintf(&b, "- Duration: %.1fs\n", summary.Duration.Seconds())
	fmt.Fprintf(&b, "- Data points: %d\n", summary.DataPoints)
	if summary.LastError != "" {
		fmt.Fprintf(&b, "- Last error: %s\n", summary.LastError)
	}
	b.WriteString("\n| Metric | Baseline | Final | Change | % Change |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, m := range summary.Metrics {
		fmt.Fprintf(&b, "| %s | %.2f | %.2f | %+.2f | %+.2f%% |\n", m.Metric.Label(), m.Baseline, m.Final, m.Change, m.PercentChange)
	}
	return strings.TrimRight(b.String(), "\n")
}
