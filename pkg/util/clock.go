package util

import "time"

// Clock stamps trades and drives the order feeder. Tests swap in a FixedClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *time.Ticker
}

type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now().UTC() }
func (RealClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time                       { return c.T }
func (FixedClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }
