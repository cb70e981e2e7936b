package out

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"

	sessionout "biomon/internal/modules/session/port/out"
)

type SerialOpener struct {
	baud        int
	readTimeout time.Duration
}

func NewSerialOpener(baud int, readTimeout time.Duration) *SerialOpener {
	return &SerialOpener{baud: baud, readTimeout: readTimeout}
}

// Open connects at the configured baud rate with 8N1 framing. A read that
// times out without data is reported as ok=false by the returned device.
func (o *SerialOpener) Open(ctx context.Context, name string) (sessionout.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: o.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(o.readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("reset input on %s: %w", name, err)
	}
	return newLineDevice(port, false), nil
}

type SerialPortLister struct{}

func (SerialPortLister) ListPorts(context.Context) ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
