package httpdoc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/remote"
)

// document is a transaction as the document API carries it.
type document struct {
	ID         string          `json:"id"`
	Account    string          `json:"account,omitempty"`
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
	Revision   int64           `json:"revision,omitempty"`
}

type pullResponse struct {
	Documents []document `json:"documents"`
	Next      int64      `json:"next"`
	More      bool       `json:"more"`
}

type pushRequest struct {
	Documents []document `json:"documents"`
}

type ackBody struct {
	ID       string     `json:"id"`
	Status   string     `json:"status"`
	Revision int64      `json:"revision,omitempty"`
	Time     *time.Time `json:"time,omitempty"`
	Existing *document  `json:"existing,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

type pushResponse struct {
	Acks []ackBody `json:"acks"`
}

func toDocument(tx market.Transaction) document {
	return document{
		ID:         tx.ID,
		Account:    tx.Account,
		Instrument: tx.Instrument,
		Quantity:   tx.Quantity,
		Price:      tx.Price,
		Time:       tx.Time.UTC(),
		Revision:   tx.Revision,
	}
}

func (d document) transaction() market.Transaction {
	return market.Transaction{
		ID:         d.ID,
		Account:    d.Account,
		Instrument: d.Instrument,
		Quantity:   d.Quantity,
		Price:      d.Price,
		Time:       d.Time.UTC(),
		State:      market.Synced,
		Revision:   d.Revision,
	}
}

func toAckBody(a remote.Ack) ackBody {
	b := ackBody{ID: a.ID, Status: a.Status.String(), Revision: a.Revision, Reason: a.Reason}
	if !a.Time.IsZero() {
		t := a.Time.UTC()
		b.Time = &t
	}
	if a.Existing != nil {
		d := toDocument(*a.Existing)
		b.Existing = &d
	}
	return b
}

func (b ackBody) ack() (remote.Ack, error) {
	st, err := remote.ParseAckStatus(b.Status)
	if err != nil {
		return remote.Ack{}, err
	}
	a := remote.Ack{ID: b.ID, Status: st, Revision: b.Revision, Reason: b.Reason}
	if b.Time != nil {
		a.Time = b.Time.UTC()
	}
	if b.Existing != nil {
		tx := b.Existing.transaction()
		a.Existing = &tx
	}
	return a, nil
}
