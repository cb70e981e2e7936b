package clock

import "time"

// Clock abstracts time so session timing is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock keeps the monotonic reading; elapsed offsets are computed from it.
// Convert with UTC() only when formatting for storage.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
