package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

type Options struct {
	Level string
	JSON  bool
	// Path redirects output to a file; used while the TUI owns the terminal.
	Path string
}

// New builds the root logger. The returned closer releases the log file, if any.
func New(opts Options, fallback io.Writer) (hclog.Logger, func() error, error) {
	level := hclog.LevelFromString(strings.TrimSpace(opts.Level))
	if level == hclog.NoLevel {
		if strings.TrimSpace(opts.Level) != "" {
			return nil, nil, fmt.Errorf("unknown log level %q", opts.Level)
		}
		level = hclog.Info
	}

	out := fallback
	closer := func() error { return nil }
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = f.Close
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "biomon",
		Level:      level,
		Output:     out,
		JSONFormat: opts.JSON,
	})
	return logger, closer, nil
}

// Discard is used by tests and by callers that have no logger configured.
func Discard() hclog.Logger {
	return hclog.NewNullLogger()
}
