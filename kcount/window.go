// Package kcount implements approximate sliding-window counting on top of a
// kstate.CountingStore. A window is split into fixed time buckets; reads sum
// the most recent buckets and writes only ever touch the current one.
package kcount

import (
	"errors"
	"fmt"
	"time"
)

// DefaultBuckets is how many buckets a read spans.
const DefaultBuckets = 10

var ErrInvalidWindow = errors.New("invalid window")

// Unit is a window time unit.
type Unit string

const (
	Milliseconds Unit = "ms"
	Seconds      Unit = "seconds"
	Minutes      Unit = "minutes"
	Hours        Unit = "hours"
	Days         Unit = "days"
	Weeks        Unit = "weeks"
)

// msPerUnit is the single conversion table for every counter kind.
var msPerUnit = map[Unit]int64{
	Milliseconds: 1,
	Seconds:      1000,
	Minutes:      60 * 1000,
	Hours:        60 * 60 * 1000,
	Days:         24 * 60 * 60 * 1000,
	Weeks:        7 * 24 * 60 * 60 * 1000,
}

// Window is the size of one bucket, e.g. {Minutes, 5}.
type Window struct {
	Unit   Unit  `json:"unit" yaml:"unit" validate:"required,oneof=ms seconds minutes hours days weeks"`
	Number int64 `json:"number" yaml:"number" validate:"required,gt=0"`
}

// Milliseconds returns the window size in milliseconds.
func (w Window) Milliseconds() (int64, error) {
	per, ok := msPerUnit[w.Unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidWindow, w.Unit)
	}
	if w.Number <= 0 {
		return 0, fmt.Errorf("%w: number must be positive, got %d", ErrInvalidWindow, w.Number)
	}
	return per * w.Number, nil
}

// Duration returns the window size.
func (w Window) Duration() (time.Duration, error) {
	ms, err := w.Milliseconds()
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// TimeBucket returns floor(ts / window) in milliseconds.
func TimeBucket(ts time.Time, w Window) (int64, error) {
	size, err := w.Milliseconds()
	if err != nil {
		return 0, err
	}
	ms := ts.UnixMilli()
	bucket := ms / size
	if ms%size < 0 {
		bucket--
	}
	return bucket, nil
}

// PastNBuckets returns the bucket containing ts followed by the n-1 buckets
// before it, newest first.
func PastNBuckets(ts time.Time, w Window, n int) ([]int64, error) {
	current, err := TimeBucket(ts, w)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = current - int64(i)
	}
	return out, nil
}
