package submission

import (
	"context"
	"time"
)

// Timer is a running countdown.
type Timer interface {
	Stop() bool
}

// TimerFunc starts a countdown that calls f once after d.
type TimerFunc func(d time.Duration, f func()) Timer

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration)

// RealTimer is the wall-clock TimerFunc.
func RealTimer(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealSleep is the wall-clock SleepFunc.
func RealSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
