// Package memory is an in-process remote store. It backs tests and the
// demo command, and can inject transport faults.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/remote"
)

type collection struct {
	rev  int64
	docs []market.Transaction
	byID map[string]int
}

type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	clock       func() time.Time

	pullHook func(after int64) error
	pushHook func(docs []market.Transaction) error
	ackLimit int
	pulls    int
	pushes   int
}

type Option func(*Store)

// WithClock makes the store assign its own commit time to created
// documents, the way a server timestamp would.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func New(opts ...Option) *Store {
	s := &Store{collections: make(map[string]*collection)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnPull installs a hook run before every pull; a non-nil error fails it.
func (s *Store) OnPull(fn func(after int64) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pullHook = fn
}

// OnPush installs a hook run before every push; a non-nil error fails it.
func (s *Store) OnPush(fn func(docs []market.Transaction) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushHook = fn
}

// LimitAcks caps how many documents a single push acknowledges. Zero
// removes the cap.
func (s *Store) LimitAcks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackLimit = n
}

// Calls returns how many pulls and pushes reached the store.
func (s *Store) Calls() (pulls, pushes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls, s.pushes
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{byID: make(map[string]int)}
		s.collections[name] = c
	}
	return c
}

// Put stores a document directly, as another device would have.
func (s *Store) Put(name string, tx market.Transaction) market.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(s.coll(name), tx)
}

// Docs returns a copy of a collection in revision order.
func (s *Store) Docs(name string) []market.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]market.Transaction(nil), s.coll(name).docs...)
}

func (s *Store) commit(c *collection, tx market.Transaction) market.Transaction {
	c.rev++
	tx.Revision = c.rev
	tx.State = market.Synced
	tx.Seq = 0
	if s.clock != nil {
		tx.Time = s.clock().UTC()
	}
	c.byID[tx.ID] = len(c.docs)
	c.docs = append(c.docs, tx)
	return tx
}

func (s *Store) Pull(ctx context.Context, name string, after int64, limit int) (remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return remote.Page{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++

	if s.pullHook != nil {
		if err := s.pullHook(after); err != nil {
			return remote.Page{}, err
		}
	}
	if limit <= 0 {
		limit = 100
	}

	c := s.coll(name)
	page := remote.Page{Next: after}
	for _, d := range c.docs {
		if d.Revision <= after {
			continue
		}
		if len(page.Docs) == limit {
			page.More = true
			break
		}
		page.Docs = append(page.Docs, d)
		page.Next = d.Revision
	}
	return page, nil
}

func (s *Store) Push(ctx context.Context, name string, docs []market.Transaction) ([]remote.Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes++

	if s.pushHook != nil {
		if err := s.pushHook(docs); err != nil {
			return nil, err
		}
	}

	n := len(docs)
	if s.ackLimit > 0 && n > s.ackLimit {
		n = s.ackLimit
	}

	c := s.coll(name)
	acks := make([]remote.Ack, 0, n)
	for _, d := range docs[:n] {
		if err := d.Validate(); err != nil {
			acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckRejected, Reason: err.Error()})
			continue
		}
		if i, ok := c.byID[d.ID]; ok {
			existing := c.docs[i]
			if existing.SameContent(d) {
				acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckOK, Revision: existing.Revision, Time: existing.Time})
			} else {
				acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckConflict, Existing: &existing})
			}
			continue
		}
		saved := s.commit(c, d)
		acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckOK, Revision: saved.Revision, Time: saved.Time})
	}
	return acks, nil
}

func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memory(%d collections)", len(s.collections))
}

var _ remote.Store = (*Store)(nil)
