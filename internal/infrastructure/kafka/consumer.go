package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/honeynil/MoneyMitra/internal/repository"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertConsumer persists compensation alerts as ledger incidents for reconciliation.
// An offset is committed only after its incident is stored, so an alert that
// could not be persisted is redelivered to the next group member.
type AlertConsumer struct {
	reader       messageReader
	topic        string
	incidentRepo repository.IncidentRepository
	newBackOff   func() backoff.BackOff
}

func NewAlertConsumer(brokers []string, topic, groupID string, incidentRepo repository.IncidentRepository) *AlertConsumer {
	return &AlertConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		topic:        topic,
		incidentRepo: incidentRepo,
		newBackOff:   defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (c *AlertConsumer) backOff() backoff.BackOff {
	if c.newBackOff == nil {
		return defaultBackOff()
	}
	return c.newBackOff()
}

// Consume blocks until ctx is cancelled.
func (c *AlertConsumer) Consume(ctx context.Context) {
	readBackOff := c.backOff()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("alert consumer stopped", "topic", c.topic)
				return
			}
			wait := readBackOff.NextBackOff()
			slog.Error("failed to fetch Kafka message", "topic", c.topic, "retry_in", wait, "error", err)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		readBackOff.Reset()

		if err := c.handle(ctx, msg); err != nil {
			slog.Warn("alert consumer stopped with uncommitted alert",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			return
		}
	}
}

// handle stores the incident carried by msg and then commits it. It retries
// until it succeeds or ctx is done; Create is idempotent on the incident id, so
// a redelivered alert is harmless.
func (c *AlertConsumer) handle(ctx context.Context, msg kafka.Message) error {
	incident, err := DecodeCompensationAlert(msg.Value)
	if err != nil {
		slog.Error("dropping malformed compensation alert",
			"topic", msg.Topic, "offset", msg.Offset, "key", string(msg.Key), "value", string(msg.Value), "error", err)
		return c.commit(ctx, msg)
	}

	persist := func() error {
		err := c.incidentRepo.Create(ctx, &incident)
		if err != nil {
			slog.Error("failed to persist ledger incident, will retry", "incident_id", incident.ID, "error", err)
		}
		return err
	}
	if err := backoff.Retry(persist, backoff.WithContext(c.backOff(), ctx)); err != nil {
		return err
	}
	slog.Warn("ledger incident persisted", "incident_id", incident.ID, "sender_id", incident.SenderID,
		"receiver_id", incident.ReceiverID, "amount", incident.Amount, "stage", incident.Stage)

	return c.commit(ctx, msg)
}

func (c *AlertConsumer) commit(ctx context.Context, msg kafka.Message) error {
	op := func() error {
		err := c.reader.CommitMessages(ctx, msg)
		if err != nil {
			slog.Error("failed to commit Kafka offset, will retry", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.backOff(), ctx))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *AlertConsumer) Close() error {
	return c.reader.Close()
}
