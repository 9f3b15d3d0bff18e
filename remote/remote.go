// Package remote defines the boundary to the remote document store.
//
// The store is treated as eventually consistent and at-least-once: a pull
// may return documents already seen, and a push may be acknowledged only in
// part.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tracker/market"
)

// Store is a document collection that supports incremental pull by
// revision and batched creation with per-document acknowledgment.
type Store interface {
	// Pull returns up to limit documents with a revision greater than after,
	// in revision order.
	Pull(ctx context.Context, collection string, after int64, limit int) (Page, error)

	// Push creates documents and returns one Ack per document for a prefix
	// of docs, in order. Fewer acks than docs means the rest were not
	// processed. Acks and an error may be returned together.
	Push(ctx context.Context, collection string, docs []market.Transaction) ([]Ack, error)
}

// Page is one pull response.
type Page struct {
	Docs []market.Transaction
	Next int64 // highest revision in Docs, or the requested cursor if empty
	More bool
}

type AckStatus int

const (
	AckOK AckStatus = iota
	AckConflict
	AckRejected
)

func (s AckStatus) String() string {
	switch s {
	case AckOK:
		return "ok"
	case AckConflict:
		return "conflict"
	case AckRejected:
		return "rejected"
	default:
		return fmt.Sprintf("AckStatus(%d)", int(s))
	}
}

// ParseAckStatus parses the String form of an AckStatus.
func ParseAckStatus(s string) (AckStatus, error) {
	switch s {
	case "ok":
		return AckOK, nil
	case "conflict":
		return AckConflict, nil
	case "rejected":
		return AckRejected, nil
	default:
		return 0, fmt.Errorf("unknown ack status %q", s)
	}
}

// Ack is the remote store's answer for one pushed document.
//
// For AckOK, Revision and Time are the committed ordering. For
// AckConflict, Existing holds the version already stored under the id.
type Ack struct {
	ID       string
	Status   AckStatus
	Revision int64
	Time     time.Time
	Existing *market.Transaction
	Reason   string
}

// ErrUnavailable is a transient transport failure.
var ErrUnavailable = errors.New("remote store unavailable")

// IsPermanent reports whether err is known not to succeed on retry.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
