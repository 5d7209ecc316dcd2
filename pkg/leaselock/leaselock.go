package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/except-pass/telltale/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Run identifies a truth-table run. Runs of the same graph share one lease,
// and the run id is recorded as the lease owner.
type Run struct {
	GraphID string
	ID      string
}

// Key is the lease key guarding runs of the graph.
func (r Run) Key() string {
	return "truth_table:" + r.GraphID
}

// Owner is the lock token stored for the run. The suffix keeps two
// deliveries of the same run apart.
func (r Run) Owner(suffix string) string {
	return "run:" + r.ID + ":" + suffix
}

// OwnerRun extracts the run id from a token made by Owner.
func OwnerRun(token string) (string, bool) {
	rest, ok := strings.CutPrefix(token, "run:")
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}

// BusyError reports the run currently holding a graph's lease. It matches
// ErrBusy with errors.Is.
type BusyError struct {
	GraphID string
	// HeldBy is empty when the holder could not be determined.
	HeldBy string
}

func (e *BusyError) Error() string {
	if e.HeldBy == "" {
		return fmt.Sprintf("graph %s: %s", e.GraphID, ErrBusy)
	}
	return fmt.Sprintf("graph %s: %s, held by run %s", e.GraphID, ErrBusy, e.HeldBy)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// Locker runs fn while run holds its graph's lease.
type Locker interface {
	WithRunLease(ctx context.Context, run Run, opts Options, fn func(ctx context.Context) error) error
}

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out run leases stored in the app_locks table, so that
// workers on different hosts never run the same graph at once.
type Client struct {
	db dbConn
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL < time.Millisecond {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

// Lease is a held run lease. Its Context is cancelled when the lease is
// released or lost.
type Lease struct {
	Run   Run
	Token string

	Context context.Context

	client *Client
	ttlMs  int64
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a client on a pool or connection.
func New(db dbConn) *Client {
	return &Client{db: db}
}

func (c *Client) WithRunLease(ctx context.Context, run Run, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, run, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

// Acquire takes the lease of run's graph. Without opts.Wait a busy graph
// fails fast with a *BusyError naming the holder.
func (c *Client) Acquire(ctx context.Context, run Run, opts Options) (*Lease, error) {
	if run.GraphID == "" || run.ID == "" {
		return nil, errors.New("lease lock needs a graph and a run id")
	}
	opts = opts.withDefaults()

	suffix, err := gonanoid.New(8)
	if err != nil {
		return nil, err
	}
	token := run.Owner(suffix)
	ttlMs := opts.TTL.Milliseconds()

	for {
		ok, err := c.tryAcquire(ctx, run.Key(), token, ttlMs)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, &BusyError{GraphID: run.GraphID, HeldBy: c.holder(ctx, run.Key())}
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Run:     run,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		ttlMs:   ttlMs,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
	logger.Debug("[Lease] Acquired run lease", "graph_id", run.GraphID, "run_id", run.ID)

	go l.renewLoop(opts.RenewEvery)

	return l, nil
}

func (c *Client) tryAcquire(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var returnedKey string
	err := c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&returnedKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return returnedKey != "", nil
}

// holder returns the run owning key, or "" when it is unknown.
func (c *Client) holder(ctx context.Context, key string) string {
	var token string
	if err := c.db.QueryRow(ctx, holderSQL, key).Scan(&token); err != nil {
		return ""
	}
	runID, _ := OwnerRun(token)
	return runID
}

func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseSQL, l.Run.Key(), l.Token)
	return err
}

func (l *Lease) renewLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renew(); err != nil {
				logger.Warn("[Lease] Lost run lease", "graph_id", l.Run.GraphID, "run_id", l.Run.ID, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

// renew extends the lease, retrying transient failures twice.
func (l *Lease) renew() error {
	var err error
	for attempt := range 3 {
		if attempt > 0 {
			if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
				return err
			}
		}
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var returnedKey string
		err = l.client.db.QueryRow(renewCtx, renewSQL, l.Run.Key(), l.Token, l.ttlMs).Scan(&returnedKey)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
	}
	return err
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const holderSQL = `
SELECT locked_by FROM app_locks
WHERE lock_key = $1 AND expires_at >= now();
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2;
`
