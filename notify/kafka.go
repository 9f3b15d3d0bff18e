// Package notify forwards sync status transitions to a message broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/syncer"
)

const DefaultTopic = "tracker.sync.status"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes each status event as a JSON message keyed by
// collection, so one collection's events stay ordered on a partition.
type Publisher struct {
	writer messageWriter
	log    logrus.FieldLogger
}

// NewPublisher creates an asynchronous publisher; delivery failures are
// logged, never returned to the sync cycle.
func NewPublisher(brokers []string, topic string, log logrus.FieldLogger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.WithError(err).WithField("messages", len(msgs)).Warn("status delivery failed")
			}
		},
	}
	return &Publisher{writer: w, log: log}
}

func (p *Publisher) Publish(ctx context.Context, ev syncer.StatusEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(ev syncer.StatusEvent) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode status event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Collection),
		Value: data,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status.String())},
		},
	}, nil
}

var _ syncer.StatusPublisher = (*Publisher)(nil)
