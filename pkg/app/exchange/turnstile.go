package exchange

import "sync"

// turnstile lets goroutines through in the order their tickets were issued.
// Tickets are issued under the engine lock, so waiting here happens with
// the engine unlocked.
type turnstile struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64 // next ticket to issue
	serving uint64
}

func newTurnstile() *turnstile {
	t := &turnstile{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// ticket reserves a slot. Every ticket must be passed to enter exactly once.
func (t *turnstile) ticket() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	t.next++
	return n
}

// enter blocks until n is being served, runs fn, then admits n+1.
func (t *turnstile) enter(n uint64, fn func()) {
	t.mu.Lock()
	for t.serving != n {
		t.cond.Wait()
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.serving++
		t.mu.Unlock()
		t.cond.Broadcast()
	}()
	fn()
}
