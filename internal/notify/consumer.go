package notify

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// Repository stores delivered notifications. Save reports false when eventID
// was already stored.
type Repository interface {
	Save(ctx context.Context, eventID string, n Notification) (bool, error)
}

// Consumer persists NotificationRequested events read from Kafka.
type Consumer struct {
	repo Repository
	log  *logger.Logger
}

func NewConsumer(repo Repository, log *logger.Logger) *Consumer {
	return &Consumer{repo: repo, log: log}
}

// Handle is a kafka.Handler. Undecodable messages are logged and committed so
// they do not block the partition; storage errors are returned and the
// consumer retries the message before moving past it.
func (c *Consumer) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.DecodeEnvelope(m.Value)
	if err != nil {
		c.log.Error(ctx, "skip undecodable notification", err)
		return nil
	}
	if env.EventType != orders.EventNotificationRequested {
		return nil
	}
	n, err := kafka.UnwrapPayload[Notification](env.Payload)
	if err != nil {
		c.log.Error(ctx, "skip undecodable notification", err)
		return nil
	}

	ctx = c.log.WithField(ctx, "event_id", env.EventID)
	stored, err := c.repo.Save(ctx, env.EventID, n)
	if err != nil {
		return err
	}
	if !stored {
		c.log.Debug(ctx, "duplicate notification delivery")
	}
	return nil
}
