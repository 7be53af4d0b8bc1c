package main

import (
	"sort"
	"sync"
	"time"

	"github.com/bardlex/gospv/internal/messaging"
)

// pendingRequest is a request in flight through the relayer. Requests that
// cannot be proven yet wait in the pending set until the next block.
type pendingRequest struct {
	msg       *messaging.ProofRequestMessage
	firstSeen time.Time
	attempts  int
	lastError string
}

// pendingSet holds requests that could not be proven yet, keyed by request ID.
// It is bounded; a full set refuses new requests but still accepts re-parks
// of requests it has parked before, including ones drained for a retry.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
	limit   int
	maxAge  time.Duration
	expired int64
}

func newPendingSet(limit int, maxAge time.Duration) *pendingSet {
	return &pendingSet{
		entries: make(map[string]*pendingRequest),
		limit:   limit,
		maxAge:  maxAge,
	}
}

// park adds req or refreshes the entry with its request ID, counting one more
// attempt. A request keeps the firstSeen of its first arrival, so expiry is
// measured from it across re-parks. A refused request is left untouched.
func (p *pendingSet) park(req *pendingRequest, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, known := p.entries[req.msg.RequestID]
	if !known && req.attempts == 0 && len(p.entries) >= p.limit {
		return false
	}

	req.attempts++
	req.lastError = reason
	p.entries[req.msg.RequestID] = req
	return true
}

// restore puts drained requests back without counting an attempt.
func (p *pendingSet) restore(reqs []*pendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, req := range reqs {
		p.entries[req.msg.RequestID] = req
	}
}

// drain empties the set. Entries older than maxAge at now come back as
// expired, the rest as ready, both oldest first.
func (p *pendingSet) drain(now time.Time) (ready, expired []*pendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, e := range p.entries {
		if now.Sub(e.firstSeen) > p.maxAge {
			expired = append(expired, e)
		} else {
			ready = append(ready, e)
		}
		delete(p.entries, id)
	}
	p.expired += int64(len(expired))

	byAge := func(s []*pendingRequest) {
		sort.Slice(s, func(i, j int) bool { return s[i].firstSeen.Before(s[j].firstSeen) })
	}
	byAge(ready)
	byAge(expired)
	return ready, expired
}

// expire removes only the entries older than maxAge at now.
func (p *pendingSet) expire(now time.Time) []*pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*pendingRequest
	for id, e := range p.entries {
		if now.Sub(e.firstSeen) > p.maxAge {
			expired = append(expired, e)
			delete(p.entries, id)
		}
	}
	p.expired += int64(len(expired))
	return expired
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *pendingSet) expiredTotal() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expired
}
