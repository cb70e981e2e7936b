package out

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"biomon/internal/modules/session/domain"
)

// lineDevice turns a byte stream into newline-delimited lines. Partial reads
// stay buffered until their newline arrives; blank lines are skipped.
type lineDevice struct {
	src   io.ReadCloser
	buf   []byte
	chunk []byte
	// idleOnEOF reports io.EOF as "no data yet" instead of a lost connection.
	idleOnEOF bool
	eof       bool
}

func newLineDevice(src io.ReadCloser, idleOnEOF bool) *lineDevice {
	return &lineDevice{src: src, chunk: make([]byte, 512), idleOnEOF: idleOnEOF}
}

func (d *lineDevice) ReadLine() (string, bool, error) {
	if line, ok, err := d.next(); ok || err != nil {
		return line, ok, err
	}
	if d.eof {
		return d.flush()
	}
	n, err := d.src.Read(d.chunk)
	if n > 0 {
		d.buf = append(d.buf, d.chunk[:n]...)
	}
	if err != nil {
		if !errors.Is(err, io.EOF) || !d.idleOnEOF {
			return "", false, &domain.DeviceError{Op: "read", Err: err}
		}
		d.eof = true
	}
	if line, ok, err := d.next(); ok || err != nil {
		return line, ok, err
	}
	if d.eof {
		return d.flush()
	}
	return "", false, nil
}

func (d *lineDevice) next() (string, bool, error) {
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return "", false, nil
		}
		raw := bytes.TrimRight(d.buf[:idx], "\r")
		d.buf = d.buf[idx+1:]
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		return decode(raw)
	}
}

// flush yields a trailing line that never got its newline.
func (d *lineDevice) flush() (string, bool, error) {
	raw := bytes.TrimRight(d.buf, "\r")
	d.buf = nil
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false, nil
	}
	return decode(raw)
}

func decode(raw []byte) (string, bool, error) {
	if !utf8.Valid(raw) {
		return "", false, &domain.DeviceError{Op: "decode", Err: fmt.Errorf("invalid utf-8 in line %q", raw)}
	}
	return string(raw), true, nil
}

func (d *lineDevice) Close() error {
	return d.src.Close()
}
