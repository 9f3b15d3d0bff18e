// Package syncer reconciles the local journal with a remote document store.
//
// A cycle pulls everything newer than the collection cursor, applies it
// locally page by page, then pushes Pending transactions in creation order.
// Cycles are single-flight: a Sync call made while a cycle runs waits for
// that cycle and gets its result. A cycle belongs to the engine, not to the
// caller that started it, and only Close stops it early.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rustyeddy/tracker/journal"
	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/remote"
)

var (
	ErrSyncFailed = errors.New("sync failed")
	ErrClosed     = errors.New("sync engine closed")
)

// Local is the part of the journal the engine writes to.
type Local interface {
	Cursor(collection string) (market.SyncCursor, error)
	ApplyRemoteBatch(cur market.SyncCursor, txs []market.Transaction) (journal.ApplyResult, error)
	ApplyRemote(txs []market.Transaction) (journal.ApplyResult, error)
	Pending() []market.Transaction
	Refuse(id, reason string) (market.Conflict, error)
}

type Options struct {
	Collection     string
	PageSize       int
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         logrus.FieldLogger
	Publishers     []StatusPublisher
	Now            func() time.Time
}

func (o *Options) defaults() {
	if o.Collection == "" {
		o.Collection = "transactions"
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Result summarizes one cycle.
type Result struct {
	Pulled    int               `json:"pulled"`
	Inserted  int               `json:"inserted"`
	Synced    int               `json:"synced"`
	Pushed    int               `json:"pushed"`
	Rejected  int               `json:"rejected"`
	Remaining int               `json:"remaining"`
	Cursor    int64             `json:"cursor"`
	Conflicts []market.Conflict `json:"conflicts,omitempty"`
	Started   time.Time         `json:"started"`
	Finished  time.Time         `json:"finished"`
}

func (r *Result) add(a journal.ApplyResult) {
	r.Inserted += a.Inserted
	r.Synced += a.Synced
	r.Rejected += a.Rejected
	r.Conflicts = append(r.Conflicts, a.Conflicts...)
}

type Engine struct {
	local  Local
	remote remote.Store
	opts   Options
	log    logrus.FieldLogger

	group  singleflight.Group
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	status  Status
	subs    map[int]chan StatusEvent
	nextSub int
	last    Result
	lastErr error
}

func New(local Local, rs remote.Store, opts Options) *Engine {
	opts.defaults()
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		local:  local,
		remote: rs,
		opts:   opts,
		log:    log.WithField("collection", opts.Collection),
		base:   base,
		cancel: cancel,
		subs:   make(map[int]chan StatusEvent),
	}
}

// Status returns the current phase.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Last returns the outcome of the most recent finished cycle.
func (e *Engine) Last() (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.lastErr
}

// Subscribe returns a channel of status transitions and a function that
// ends the subscription. Events are dropped for a subscriber whose buffer
// is full.
func (e *Engine) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan StatusEvent, buffer)

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// Sync runs a cycle, or joins the one in flight. Canceling ctx only stops
// this caller from waiting; the cycle keeps going for any other caller.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ch := e.group.DoChan(e.opts.Collection, func() (any, error) {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return Result{}, ErrClosed
		}
		e.wg.Add(1)
		e.mu.Unlock()
		defer e.wg.Done()

		cctx, stop := context.WithCancel(context.WithoutCancel(ctx))
		defer stop()
		defer context.AfterFunc(e.base, stop)()

		res, err := e.cycle(cctx)
		e.mu.Lock()
		e.last, e.lastErr = res, err
		e.mu.Unlock()
		return res, err
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(Result)
		return res, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run syncs every interval until ctx is done or the engine is closed.
func (e *Engine) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		_, err := e.Sync(ctx)
		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil && ctx.Err() == nil && e.base.Err() == nil:
			e.log.WithError(err).Warn("scheduled sync failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-e.base.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close cancels the cycle in flight, waits for it to finish and makes
// later Sync calls fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
	return nil
}

func (e *Engine) cycle(ctx context.Context) (Result, error) {
	res := Result{Started: e.opts.Now().UTC()}

	e.emit(ctx, StatusEvent{Status: Pulling})
	pages, err := e.pull(ctx)
	if err != nil {
		return e.fail(ctx, res, fmt.Errorf("pull: %w", err))
	}

	e.emit(ctx, StatusEvent{Status: Reconciling})
	for _, pg := range pages {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, res, err)
		}
		cur := market.SyncCursor{Collection: e.opts.Collection, Revision: pg.Next}
		ar, err := e.local.ApplyRemoteBatch(cur, pg.Docs)
		if err != nil {
			return e.fail(ctx, res, fmt.Errorf("reconcile: %w", err))
		}
		res.Pulled += len(pg.Docs)
		res.Cursor = pg.Next
		res.add(ar)
	}

	e.emit(ctx, StatusEvent{Status: Pushing})
	if err := e.push(ctx, &res); err != nil {
		return e.fail(ctx, res, fmt.Errorf("push: %w", err))
	}

	res.Remaining = len(e.local.Pending())
	res.Finished = e.opts.Now().UTC()
	if n := len(res.Conflicts); n > 0 {
		e.emit(ctx, StatusEvent{Status: Conflicted, Conflicts: n})
	}
	e.emit(ctx, StatusEvent{Status: Idle})

	e.log.WithFields(logrus.Fields{
		"pulled":    res.Pulled,
		"pushed":    res.Pushed,
		"conflicts": len(res.Conflicts),
		"cursor":    res.Cursor,
	}).Info("sync complete")
	return res, nil
}

// pull fetches every page past the cursor before anything is applied, so
// an interrupted pull leaves the journal untouched.
func (e *Engine) pull(ctx context.Context) ([]remote.Page, error) {
	cur, err := e.local.Cursor(e.opts.Collection)
	if err != nil {
		return nil, err
	}

	var pages []remote.Page
	after := cur.Revision
	for {
		var pg remote.Page
		err := e.retry(ctx, "pull", func() error {
			var err error
			pg, err = e.remote.Pull(ctx, e.opts.Collection, after, e.opts.PageSize)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(pg.Docs) > 0 {
			pages = append(pages, pg)
		}
		if !pg.More || pg.Next <= after {
			return pages, nil
		}
		after = pg.Next
	}
}

var errNoProgress = errors.New("remote acknowledged nothing")

func (e *Engine) push(ctx context.Context, res *Result) error {
	pending := e.local.Pending()
	for len(pending) > 0 {
		n := min(len(pending), e.opts.BatchSize)
		batch := pending[:n]

		acked := 0
		err := e.retry(ctx, "push", func() error {
			acks, err := e.remote.Push(ctx, e.opts.Collection, batch[acked:])
			done, aerr := e.applyAcks(batch[acked:], acks, res)
			acked += done
			if aerr != nil {
				return backoff.Permanent(aerr)
			}
			if err != nil {
				return err
			}
			if done == 0 {
				return errNoProgress
			}
			return nil
		})
		pending = pending[acked:]
		if err != nil {
			return err
		}
	}
	return nil
}

// applyAcks commits the acknowledged prefix of batch and returns how many
// documents it covered. A document the remote rejects is parked as a
// conflict so it is not pushed again.
func (e *Engine) applyAcks(batch []market.Transaction, acks []remote.Ack, res *Result) (int, error) {
	var (
		canonical []market.Transaction
		stop      error
		done      int
	)
	for i, a := range acks {
		if i >= len(batch) || a.ID != batch[i].ID {
			stop = fmt.Errorf("ack %d (%s) does not match the pushed document", i, a.ID)
			break
		}
		tx := batch[i]
		switch a.Status {
		case remote.AckOK:
			if !a.Time.IsZero() {
				tx.Time = a.Time
			}
			tx.Revision = a.Revision
			canonical = append(canonical, tx)
			res.Pushed++
		case remote.AckConflict:
			if a.Existing == nil {
				stop = fmt.Errorf("conflict ack for %s without the stored version", a.ID)
				break
			}
			canonical = append(canonical, *a.Existing)
		case remote.AckRejected:
			c, err := e.local.Refuse(a.ID, a.Reason)
			if err != nil {
				stop = fmt.Errorf("park rejected %s: %w", a.ID, err)
				break
			}
			res.Rejected++
			res.Conflicts = append(res.Conflicts, c)
			e.log.WithFields(logrus.Fields{"id": a.ID, "reason": a.Reason}).Warn("remote rejected document")
		default:
			stop = fmt.Errorf("ack %d (%s) has unknown status %d", i, a.ID, a.Status)
		}
		if stop != nil {
			break
		}
		done++
	}

	if len(canonical) > 0 {
		ar, err := e.local.ApplyRemote(canonical)
		if err != nil {
			return 0, err
		}
		ar.Rejected = 0
		res.add(ar)
	}
	return done, stop
}

func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.InitialBackoff
	b.MaxInterval = e.opts.MaxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxAttempts-1)), ctx)
	attempt := 1
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && (remote.IsPermanent(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		e.log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"wait":    wait,
		}).WithError(err).Warn("remote call failed, retrying")
		attempt++
	})
}

func (e *Engine) fail(ctx context.Context, res Result, err error) (Result, error) {
	res.Remaining = len(e.local.Pending())
	res.Finished = e.opts.Now().UTC()
	e.emit(ctx, StatusEvent{Status: Failed, Error: err.Error()})
	e.emit(ctx, StatusEvent{Status: Idle})
	return res, fmt.Errorf("%w: %w", ErrSyncFailed, err)
}

func (e *Engine) emit(ctx context.Context, ev StatusEvent) {
	ev.Collection = e.opts.Collection
	ev.Time = e.opts.Now().UTC()

	e.mu.Lock()
	e.status = ev.Status
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.WithField("status", ev.Status.String()).Debug("status subscriber full, event dropped")
		}
	}
	e.mu.Unlock()

	// publishers may talk to the network, so they run outside the lock
	pctx := context.WithoutCancel(ctx)
	for _, p := range e.opts.Publishers {
		if err := p.Publish(pctx, ev); err != nil {
			e.log.WithError(err).Warn("status publish failed")
		}
	}
}
