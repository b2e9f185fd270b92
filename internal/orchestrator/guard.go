package orchestrator

import "sync"

// Guard hands out generation tickets. Beginning a new fetch supersedes
// every earlier ticket, and Invalidate retires all of them permanently.
type Guard struct {
	mu         sync.Mutex
	generation uint64
	closed     bool
}

// Ticket is the generation captured when a fetch started.
type Ticket struct {
	guard      *Guard
	generation uint64
}

func (g *Guard) Begin() Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	return Ticket{guard: g, generation: g.generation}
}

// Invalidate retires every ticket. Once it returns no Do callback runs.
func (g *Guard) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.generation++
}

func (t Ticket) Valid() bool {
	t.guard.mu.Lock()
	defer t.guard.mu.Unlock()
	return t.validLocked()
}

func (t Ticket) validLocked() bool {
	return !t.guard.closed && t.generation == t.guard.generation
}

// Do runs fn while holding the guard, only if the ticket is still current.
func (t Ticket) Do(fn func()) bool {
	t.guard.mu.Lock()
	defer t.guard.mu.Unlock()
	if !t.validLocked() {
		return false
	}
	fn()
	return true
}
