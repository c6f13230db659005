// Package activity fans chat-list changes out to other console instances
// over the configured pub/sub driver and applies theirs locally.
package activity

import (
	"context"
	"time"

	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/metrics"
	"github.com/odlemon/khaya-portal-sub001/pkg/pubsub"
)

const (
	previewRunes   = 140
	publishTimeout = 5 * time.Second
)

type item struct {
	chatID string
	last   domain.LastMessage
	at     time.Time
}

// Publisher queues activity and publishes it from Run. Enqueue never
// blocks; a full queue drops the entry.
type Publisher struct {
	bus      pubsub.Publisher
	instance string
	queue    chan item
}

// NewPublisher creates a publisher tagging events with instanceID.
func NewPublisher(bus pubsub.Publisher, instanceID string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		bus:      bus,
		instance: instanceID,
		queue:    make(chan item, buffer),
	}
}

// Enqueue schedules an activity event for chatID.
func (p *Publisher) Enqueue(chatID string, last domain.LastMessage, at time.Time) {
	select {
	case p.queue <- item{chatID: chatID, last: last, at: at}:
	default:
		metrics.ActivityEvents.WithLabelValues("dropped").Inc()
		l := log.L()
		l.Warn().Str(log.FieldChatID, chatID).Msg("activity queue full, dropping event")
	}
}

// Run publishes queued events until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	l := log.L()
	l.Info().Str("instance", p.instance).Msg("activity publisher started")

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("activity publisher stopping")
			return nil
		case it := <-p.queue:
			if err := p.publish(ctx, it); err != nil {
				metrics.ActivityEvents.WithLabelValues("failed").Inc()
				l.Warn().Err(err).Str(log.FieldChatID, it.chatID).Msg("failed to publish chat activity")
				continue
			}
			metrics.ActivityEvents.WithLabelValues("published").Inc()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, it item) error {
	at := it.at
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payload := pubsub.ChatActivityPayload{
		ChatID:      it.chatID,
		MessageID:   it.last.MessageID,
		SenderRole:  string(it.last.SenderRole),
		Preview:     preview(it.last.Content),
		UpdatedAt:   at,
		PublishedBy: p.instance,
	}
	ev, err := pubsub.NewEvent(pubsub.EventChatActivity, it.chatID, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.bus.Publish(ctx, pubsub.ChatActivityChannel(it.chatID), ev)
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewRunes {
		return content
	}
	return string(r[:previewRunes])
}
