package scheduler

import (
	"context"
	"sync"
)

// PendingQueue collects accounts whose drift check came back SCHEDULED
// outside the eligible window. The window job drains it on its next run.
// One entry per account: a later deferral replaces the earlier one, since
// only the freshest state and target are worth executing. Implements
// PortfolioSource.
type PendingQueue struct {
	mu    sync.Mutex
	items map[string]AccountRebalance
}

// NewPendingQueue creates an empty deferral queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{items: make(map[string]AccountRebalance)}
}

// Defer records an account for the next scheduled window.
func (q *PendingQueue) Defer(acct AccountRebalance) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[acct.AccountID] = acct
}

// Len reports the number of deferred accounts.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PendingRebalances drains the queue. A drained account whose execution
// fails is not re-queued; the next drift check will defer it again.
func (q *PendingQueue) PendingRebalances(_ context.Context) ([]AccountRebalance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]AccountRebalance, 0, len(q.items))
	for _, acct := range q.items {
		out = append(out, acct)
	}
	q.items = make(map[string]AccountRebalance)
	return out, nil
}
