package util

import "sync/atomic"

// Sequencer hands out strictly increasing sequence numbers for trades.
// After a restart it resumes from the last persisted value.
type Sequencer struct {
	last atomic.Uint64
}

// NewSequencer starts a sequencer whose first Next returns start+1.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 { return s.last.Add(1) }

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 { return s.last.Load() }

// Reset rewinds to v. Used when a staged operation is abandoned.
func (s *Sequencer) Reset(v uint64) { s.last.Store(v) }
