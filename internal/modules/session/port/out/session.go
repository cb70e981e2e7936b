package out

import (
	"context"
	"io"

	"biomon/internal/modules/session/domain"
)

// Device is an open line-oriented channel. ReadLine returns at most one
// complete line; ok is false when the read timed out without one.
type Device interface {
	ReadLine() (line string, ok bool, err error)
	Close() error
}

type DeviceOpener interface {
	Open(ctx context.Context, port string) (Device, error)
}

type PortLister interface {
	ListPorts(ctx context.Context) ([]string, error)
}

type HistoryStore interface {
	Save(ctx context.Context, record domain.Record) error
	List(ctx context.Context, limit int) ([]domain.Summary, error)
	Get(ctx context.Context, sessionID string) (domain.Record, error)
}

// ReportStore writes the human-readable session note and returns its path.
type ReportStore interface {
	Save(ctx context.Context, summary domain.Summary) (string, error)
}

type Exporter interface {
	WriteProcessed(w io.Writer, record domain.Record) error
	WriteSummary(w io.Writer, record domain.Record) error
	WriteRaw(w io.Writer, record domain.Record) error
}
