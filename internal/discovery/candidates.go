package discovery

import (
	"sync"
	"time"
)

// Candidate is a session seen on the LAN
type Candidate struct {
	Identity  Identity
	Addr      string // IP of the announcing host
	FirstSeen time.Time
	LastSeen  time.Time
}

// CandidateList keeps discovered sessions in first-seen order, one per name
type CandidateList struct {
	mu         sync.RWMutex
	candidates []Candidate
	index      map[string]int
}

// NewCandidateList creates an empty list
func NewCandidateList() *CandidateList {
	return &CandidateList{
		index: make(map[string]int),
	}
}

// Observe records a sighting. Returns true when a new candidate was appended.
// A repeat sighting of a known name only refreshes LastSeen.
func (l *CandidateList) Observe(id Identity, addr string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[id.Name]; ok {
		l.candidates[i].LastSeen = now
		return false
	}

	l.index[id.Name] = len(l.candidates)
	l.candidates = append(l.candidates, Candidate{
		Identity:  id,
		Addr:      addr,
		FirstSeen: now,
		LastSeen:  now,
	})
	return true
}

// List returns a copy of the candidates in first-seen order
func (l *CandidateList) List() []Candidate {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Candidate, len(l.candidates))
	copy(out, l.candidates)
	return out
}

// Find returns the candidate announced under name
func (l *CandidateList) Find(name string) (Candidate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[name]
	if !ok {
		return Candidate{}, false
	}
	return l.candidates[i], true
}

// Count returns the number of candidates
func (l *CandidateList) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.candidates)
}

// PruneStale removes candidates not seen since now-ttl, keeping the order of
// the rest. Returns the removed candidates.
func (l *CandidateList) PruneStale(ttl time.Duration, now time.Time) []Candidate {
	threshold := now.Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []Candidate
	kept := l.candidates[:0]
	for _, c := range l.candidates {
		if c.LastSeen.Before(threshold) {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	if len(removed) == 0 {
		return nil
	}

	// zero the tail so pruned entries are not retained by the backing array
	for i := len(kept); i < len(l.candidates); i++ {
		l.candidates[i] = Candidate{}
	}
	l.candidates = kept
	l.index = make(map[string]int, len(kept))
	for i, c := range kept {
		l.index[c.Identity.Name] = i
	}
	return removed
}
