package session

import (
	"sort"
	"sync"
)

// Pool is the set of currently live sessions.
//
// It is bookkeeping only: sessions add themselves on connect and remove
// themselves on Disconnect. Drain is the single cleanup path used on normal
// completion, on interrupt and after errors.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	peak     int
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{sessions: make(map[string]*Session)}
}

// Add registers s. A session with the same ID is replaced.
func (p *Pool) Add(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions[s.ID] = s
	if len(p.sessions) > p.peak {
		p.peak = len(p.sessions)
	}
}

// Remove unregisters s. It is a no-op if s is not the registered session for its ID.
func (p *Pool) Remove(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.sessions[s.ID]; ok && cur == s {
		delete(p.sessions, s.ID)
	}
}

// Get returns the session with the given ID, or nil.
func (p *Pool) Get(id string) *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[id]
}

// Len returns the number of live sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Peak returns the highest number of sessions live at once.
func (p *Pool) Peak() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peak
}

// Snapshot returns the live sessions ordered by ID.
func (p *Pool) Snapshot() []*Session {
	p.mu.RLock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drain disconnects every live session and returns how many there were.
//
// Sessions are disconnected outside the pool lock, so Drain is safe to run
// while tasks are still disconnecting themselves.
func (p *Pool) Drain() int {
	sessions := p.Snapshot()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Disconnect()
		}(s)
	}
	wg.Wait()

	return len(sessions)
}
