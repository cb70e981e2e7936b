package out

import (
	"context"
	"fmt"
	"os"
	"time"

	sessionout "biomon/internal/modules/session/port/out"
)

// ReplayOpener plays back a recorded raw capture as if it came from the
// device, releasing at most one line per interval. The "port" is a file path.
type ReplayOpener struct {
	interval time.Duration
}

func NewReplayOpener(interval time.Duration) *ReplayOpener {
	return &ReplayOpener{interval: interval}
}

func (o *ReplayOpener) Open(ctx context.Context, path string) (sessionout.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return &pacedDevice{lines: newLineDevice(file, true), interval: o.interval}, nil
}

type pacedDevice struct {
	lines    *lineDevice
	interval time.Duration
	last     time.Time
}

func (d *pacedDevice) ReadLine() (string, bool, error) {
	if d.interval > 0 && !d.last.IsZero() {
		if wait := d.interval - time.Since(d.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	line, ok, err := d.lines.ReadLine()
	if ok {
		d.last = time.Now()
	}
	return line, ok, err
}

func (d *pacedDevice) Close() error {
	return d.lines.Close()
}
