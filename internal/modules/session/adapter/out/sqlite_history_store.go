package out

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"biomon/internal/modules/session/domain"
	apperrors "biomon/internal/platform/errors"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

type SQLiteHistoryStore struct {
	db *sql.DB
}

func NewSQLiteHistoryStore(dbPath string) (*SQLiteHistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store := &SQLiteHistoryStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteHistoryStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteHistoryStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  schema_version INTEGER NOT NULL,
  subject_name TEXT NOT NULL,
  subject_age INTEGER NOT NULL,
  subject_gender TEXT NOT NULL,
  policy TEXT NOT NULL,
  started_at TEXT NOT NULL,
  ended_at TEXT NOT NULL,
  duration_ns INTEGER NOT NULL,
  data_points INTEGER NOT NULL,
  completed INTEGER NOT NULL,
  parse_errors INTEGER NOT NULL,
  last_error TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions(started_at);
CREATE TABLE IF NOT EXISTS session_metrics (
  session_id TEXT NOT NULL,
  metric TEXT NOT NULL,
  baseline REAL NOT NULL,
  final_reading REAL NOT NULL,
  change_value REAL NOT NULL,
  percent_change REAL NOT NULL,
  sample_count INTEGER NOT NULL,
  PRIMARY KEY (session_id, metric)
);
CREATE TABLE IF NOT EXISTS samples (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  metric TEXT NOT NULL,
  offset_ns INTEGER NOT NULL,
  value REAL NOT NULL,
  PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS raw_lines (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  text TEXT NOT NULL,
  offset_ns INTEGER NOT NULL,
  received_at TEXT NOT NULL,
  parsed INTEGER NOT NULL,
  PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS parse_failures (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  line TEXT NOT NULL,
  reason TEXT NOT NULL,
  offset_ns INTEGER NOT NULL,
  PRIMARY KEY (session_id, seq)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create history tables: %w", err)
	}
	return nil
}

// Save replaces any stored copy of the session with the given record.
func (s *SQLiteHistoryStore) Save(ctx context.Context, record domain.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	summary := record.Summary
	id := summary.SessionID
	for _, table := range []string{"session_metrics", "samples", "raw_lines", "parse_failures"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	const upsert = `
INSERT INTO sessions (id, schema_version, subject_name, subject_age, subject_gender, policy, started_at, ended_at, duration_ns, data_points, completed, parse_errors, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  schema_version=excluded.schema_version,
  subject_name=excluded.subject_name,
  subject_age=excluded.subject_age,
  subject_gender=excluded.subject_gender,
  policy=excluded.policy,
  started_at=excluded.started_at,
  ended_at=excluded.ended_at,
  duration_ns=excluded.duration_ns,
  data_points=excluded.data_points,
  completed=excluded.completed,
  parse_errors=excluded.parse_errors,
  last_error=excluded.last_error;
`
	_, err = tx.ExecContext(ctx, upsert,
		id,
		domain.SchemaVersion,
		summary.Subject.Name,
		summary.Subject.Age,
		summary.Subject.Gender,
		summary.Policy,
		summary.StartedAt.UTC().Format(timeFormat),
		summary.EndedAt.UTC().Format(timeFormat),
		int64(summary.Duration),
		summary.DataPoints,
		boolInt(summary.Completed),
		summary.ParseErrors,
		summary.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	for _, m := range summary.Metrics {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_metrics (session_id, metric, baseline, final_reading, change_value, percent_change, sample_count) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, string(m.Metric), record.Baseline.Of(m.Metric), m.Final, m.Change, m.PercentChange, m.Count,
		)
		if err != nil {
			return fmt.Errorf("insert metric summary: %w", err)
		}
	}

	seq := 0
	for _, metric := range domain.Metrics {
		for _, p := range record.Series[metric] {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO samples (session_id, seq, metric, offset_ns, value) VALUES (?, ?, ?, ?, ?)`,
				id, seq, string(metric), int64(p.Offset), p.Value,
			)
			if err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
			seq++
		}
	}
	for i, line := range record.Raw {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO raw_lines (session_id, seq, text, offset_ns, received_at, parsed) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, line.Text, int64(line.Offset), line.ReceivedAt.UTC().Format(timeFormat), boolInt(line.Parsed),
		)
		if err != nil {
			return fmt.Errorf("insert raw line: %w", err)
		}
	}
	for i, f := range record.Failures {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO parse_failures (session_id, seq, line, reason, offset_ns) VALUES (?, ?, ?, ?, ?)`,
			id, i, f.Line, f.Reason, int64(f.Offset),
		)
		if err != nil {
			return fmt.Errorf("insert parse failure: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

const selectSessions = `SELECT id, subject_name, subject_age, subject_gender, policy, started_at, ended_at, duration_ns, data_points, completed, parse_errors, last_error FROM sessions`

// List returns the most recent sessions first.
func (s *SQLiteHistoryStore) List(ctx context.Context, limit int) ([]domain.Summary, error) {
	rows, err := s.db.QueryContext(ctx, selectSessions+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.Summary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	for i := range out {
		metrics, _, err := s.loadMetrics(ctx, out[i].SessionID)
		if err != nil {
			return nil, err
		}
		out[i].Metrics = metrics
	}
	return out, nil
}

func (s *SQLiteHistoryStore) Get(ctx context.Context, sessionID string) (domain.Record, error) {
	row := s.db.QueryRowContext(ctx, selectSessions+` WHERE id = ?`, sessionID)
	summary, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
		}
		return domain.Record{}, err
	}
	metrics, baseline, err := s.loadMetrics(ctx, sessionID)
	if err != nil {
		return domain.Record{}, err
	}
	summary.Metrics = metrics

	record := domain.Record{Summary: summary, Baseline: baseline, Series: map[domain.Metric][]domain.Point{}}
	if err := s.loadSamples(ctx, sessionID, record.Series); err != nil {
		return domain.Record{}, err
	}
	if record.Raw, err = s.loadRaw(ctx, sessionID); err != nil {
		return domain.Record{}, err
	}
	if record.Failures, err = s.loadFailures(ctx, sessionID); err != nil {
		return domain.Record{}, err
	}
	return record, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (domain.Summary, error) {
	var (
		summary            domain.Summary
		startedAt, endedAt string
		durationNS         int64
		completed          int
	)
	err := row.Scan(
		&summary.SessionID,
		&summary.Subject.Name,
		&summary.Subject.Age,
		&summary.Subject.Gender,
		&summary.Policy,
		&startedAt,
		&endedAt,
		&durationNS,
		&summary.DataPoints,
		&completed,
		&summary.ParseErrors,
		&summary.LastError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Summary{}, err
		}
		return domain.Summary{}, fmt.Errorf("scan session: %w", err)
	}
	if summary.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return domain.Summary{}, fmt.Errorf("parse started_at: %w", err)
	}
	if summary.EndedAt, err = time.Parse(timeFormat, endedAt); err != nil {
		return domain.Summary{}, fmt.Errorf("parse ended_at: %w", err)
	}
	summary.Duration = time.Duration(durationNS)
	summary.Completed = completed != 0
	return summary, nil
}

func (s *SQLiteHistoryStore) loadMetrics(ctx context.Context, sessionID string) ([]domain.MetricSummary, domain.Baseline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, baseline, final_reading, change_value, percent_change, sample_count FROM session_metrics WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query metric summaries: %w", err)
	}
	defer rows.Close()

	byMetric := map[domain.Metric]domain.MetricSummary{}
	for rows.Next() {
		var (
			metric string
			m      domain.MetricSummary
		)
		if err := rows.Scan(&metric, &m.Baseline, &m.Final, &m.Change, &m.PercentChange, &m.Count); err != nil {
			return nil, nil, fmt.Errorf("scan metric summary: %w", err)
		}
		m.Metric = domain.Metric(metric)
		byMetric[m.Metric] = m
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate metric summaries: %w", err)
	}

	metrics := make([]domain.MetricSummary, 0, len(domain.Metrics))
	baseline := domain.Baseline{}
	for _, m := range domain.Metrics {
		summary, ok := byMetric[m]
		if !ok {
			summary = domain.MetricSummary{Metric: m}
		}
		metrics = append(metrics, summary)
		baseline[m] = summary.Baseline
	}
	return metrics, baseline, nil
}

func (s *SQLiteHistoryStore) loadSamples(ctx context.Context, sessionID string, series map[domain.Metric][]domain.Point) error {
	rows, err := s.db.QueryContext(ctx, `SELECT metric, offset_ns, value FROM samples WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			metric string
			offset int64
			value  float64
		)
		if err := rows.Scan(&metric, &offset, &value); err != nil {
			return fmt.Errorf("scan sample: %w", err)
		}
		m := domain.Metric(metric)
		series[m] = append(series[m], domain.Point{Offset: time.Duration(offset), Value: value})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate samples: %w", err)
	}
	return nil
}

func (s *SQLiteHistoryStore) loadRaw(ctx context.Context, sessionID string) ([]domain.RawLine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text, offset_ns, received_at, parsed FROM raw_lines WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query raw lines: %w", err)
	}
	defer rows.Close()
	out := []domain.RawLine{}
	for rows.Next() {
		var (
			line       domain.RawLine
			offset     int64
			receivedAt string
			parsed     int
		)
		if err := rows.Scan(&line.Text, &offset, &receivedAt, &parsed); err != nil {
			return nil, fmt.Errorf("scan raw line: %w", err)
		}
		if line.ReceivedAt, err = time.Parse(timeFormat, receivedAt); err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		line.Offset = time.Duration(offset)
		line.Parsed = parsed != 0
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw lines: %w", err)
	}
	return out, nil
}

func (s *SQLiteHistoryStore) loadFailures(ctx context.Context, sessionID string) ([]domain.ParseFailure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line, reason, offset_ns FROM parse_failures WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query parse failures: %w", err)
	}
	defer rows.Close()
	out := []domain.ParseFailure{}
	for rows.Next() {
		var (
			f      domain.ParseFailure
			offset int64
		)
		if err := rows.Scan(&f.Line, &f.Reason, &offset); err != nil {
			return nil, fmt.Errorf("scan parse failure: %w", err)
		}
		f.Offset = time.Duration(offset)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parse failures: %w", err)
	}
	return out, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
