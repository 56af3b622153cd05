package core

import "time"

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler abstracts wall-clock time and timer scheduling so the call
// core can be tested without sleeping.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WallClock returns the real-time Scheduler used outside of tests.
func WallClock() Scheduler { return wallClock{} }
