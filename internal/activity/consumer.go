package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/metrics"
	"github.com/odlemon/khaya-portal-sub001/pkg/pubsub"
)

// Applier receives activity published by other instances.
type Applier interface {
	ApplyActivity(chatID string, last domain.LastMessage, at time.Time)
}

// Consumer subscribes to every chat's activity channel and applies events
// that other instances published.
type Consumer struct {
	bus      pubsub.Subscriber
	instance string
	target   Applier
}

// NewConsumer creates a consumer ignoring events tagged with instanceID.
func NewConsumer(bus pubsub.Subscriber, instanceID string, target Applier) *Consumer {
	return &Consumer{bus: bus, instance: instanceID, target: target}
}

// Run consumes until ctx is done or the subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	events, err := c.bus.SubscribePattern(ctx, pubsub.PatternChatActivity)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pubsub.PatternChatActivity, err)
	}

	l := log.L()
	l.Info().Str("pattern", pubsub.PatternChatActivity).Msg("activity consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ev)
		}
	}
}

func (c *Consumer) handle(ev *pubsub.Event) {
	l := log.L()
	if ev == nil || ev.Type != pubsub.EventChatActivity {
		return
	}

	var p pubsub.ChatActivityPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		l.Warn().Err(err).Msg("failed to unmarshal chat activity")
		return
	}
	if p.PublishedBy == c.instance {
		return
	}
	if p.ChatID == "" {
		p.ChatID = ev.ChatID
	}

	c.target.ApplyActivity(p.ChatID, domain.LastMessage{
		MessageID:  p.MessageID,
		Content:    p.Preview,
		SenderRole: domain.Role(p.SenderRole),
		CreatedAt:  p.UpdatedAt,
	}, p.UpdatedAt)
	metrics.ActivityEvents.WithLabelValues("applied").Inc()

	l.Debug().Str(log.FieldChatID, p.ChatID).Str("published_by", p.PublishedBy).Msg("applied remote chat activity")
}
