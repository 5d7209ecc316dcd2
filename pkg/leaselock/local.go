package leaselock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker for single-node deployments without a
// database.
type Local struct {
	mu   sync.Mutex
	held map[string]*localLease
}

type localLease struct {
	runID string
	done  chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]*localLease)}
}

func (l *Local) WithRunLease(ctx context.Context, run Run, opts Options, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	key := run.Key()

	for {
		l.mu.Lock()
		cur, busy := l.held[key]
		if !busy {
			l.held[key] = &localLease{runID: run.ID, done: make(chan struct{})}
			l.mu.Unlock()
			break
		}
		l.mu.Unlock()

		if !opts.Wait {
			return &BusyError{GraphID: run.GraphID, HeldBy: cur.runID}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cur.done:
		case <-time.After(opts.WaitInterval):
		}
	}

	defer func() {
		l.mu.Lock()
		close(l.held[key].done)
		delete(l.held, key)
		l.mu.Unlock()
	}()

	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	return fn(leaseCtx)
}

// Holder returns the run holding the graph's lease.
func (l *Local) Holder(graphID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[Run{GraphID: graphID}.Key()]
	if !ok {
		return "", false
	}
	return cur.runID, true
}
