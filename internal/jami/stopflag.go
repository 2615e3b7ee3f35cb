package jami

import "sync/atomic"

// StopFlag requests a [Listener] to stop. It is safe for concurrent use and
// is never reset; listening again needs a new flag.
type StopFlag struct {
	v atomic.Bool
}

// NewStopFlag returns an unset flag.
func NewStopFlag() *StopFlag { return &StopFlag{} }

// Stop sets the flag.
func (f *StopFlag) Stop() { f.v.Store(true) }

// Stopped reports whether Stop was called.
func (f *StopFlag) Stopped() bool { return f.v.Load() }
