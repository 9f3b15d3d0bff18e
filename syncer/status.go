package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the phase a sync engine is in.
type Status int

const (
	Idle Status = iota
	Pulling
	Reconciling
	Pushing
	Failed
	Conflicted
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pulling:
		return "pulling"
	case Reconciling:
		return "reconciling"
	case Pushing:
		return "pushing"
	case Failed:
		return "failed"
	case Conflicted:
		return "conflicted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func ParseStatus(s string) (Status, error) {
	for st := Idle; st <= Conflicted; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown sync status %q", s)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// StatusEvent is one status transition.
type StatusEvent struct {
	Status     Status    `json:"status"`
	Collection string    `json:"collection"`
	Time       time.Time `json:"time"`
	Error      string    `json:"error,omitempty"`
	Conflicts  int       `json:"conflicts,omitempty"`
}

// StatusPublisher receives every status transition. Publish must not block
// for long; it runs on the sync cycle's goroutine.
type StatusPublisher interface {
	Publish(ctx context.Context, ev StatusEvent) error
}

// LogPublisher writes transitions to a logger.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, ev StatusEvent) error {
	entry := p.Log.WithFields(logrus.Fields{
		"collection": ev.Collection,
		"status":     ev.Status.String(),
	})
	switch ev.Status {
	case Failed:
		entry.WithField("error", ev.Error).Warn("sync failed")
	case Conflicted:
		entry.WithField("conflicts", ev.Conflicts).Warn("sync staged conflicts")
	default:
		entry.Debug("sync status")
	}
	return nil
}
