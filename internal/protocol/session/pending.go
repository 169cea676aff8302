package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/avatarsvc/internal/protocol/vcard"
)

// fetchResult is what a pending fetch resolves to.
type fetchResult struct {
	card vcard.Card
	err  error
}

// PendingFetch tracks one query awaiting its reply.
type PendingFetch struct {
	ID     string
	To     string
	SentAt time.Time

	done chan fetchResult
}

// pendingTable stores in-flight fetches by query id. resolve removes the
// entry and delivers under the same lock, so a fetch is resolved once and
// every later resolve for that id is a no-op.
type pendingTable struct {
	mu    sync.Mutex
	items map[string]*PendingFetch
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[string]*PendingFetch),
	}
}

func (t *pendingTable) register(id, to string, at time.Time) *PendingFetch {
	p := &PendingFetch{
		ID:     id,
		To:     to,
		SentAt: at,
		done:   make(chan fetchResult, 1),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[id] = p
	return p
}

func (t *pendingTable) resolve(id string, res fetchResult) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[id]
	if !ok {
		return false
	}
	delete(t.items, id)
	p.done <- res
	return true
}

func (t *pendingTable) peer(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[id]
	if !ok {
		return "", false
	}
	return p.To, true
}

// failAll resolves every in-flight fetch with err and returns how many.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.items)
	for id, p := range t.items {
		delete(t.items, id)
		p.done <- fetchResult{err: err}
	}
	return n
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *pendingTable) list() []PendingFetch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingFetch, 0, len(t.items))
	for _, p := range t.items {
		out = append(out, PendingFetch{ID: p.ID, To: p.To, SentAt: p.SentAt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}
