package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey(ChatActivityChannel("CHAT42"))
	require.NoError(t, err)
	assert.Equal(t, "chat-activity", topic)
	assert.Equal(t, "CHAT42", key)

	for _, bad := range []string{"chat", "chat::activity", "a:b:c:d"} {
		_, _, err := channelToTopicAndKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestPatternToTopic(t *testing.T) {
	topic, err := patternToTopic(PatternChatActivity)
	require.NoError(t, err)
	assert.Equal(t, "chat-activity", topic)
}

func TestNewEventRoundTrip(t *testing.T) {
	ev, err := NewEvent(EventChatActivity, "c1", ChatActivityPayload{ChatID: "c1", Preview: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.ChatID)
	assert.False(t, ev.Timestamp.IsZero())

	var p ChatActivityPayload
	require.NoError(t, ev.UnmarshalPayload(&p))
	assert.Equal(t, "hi", p.Preview)
}

func TestNewPubSubDrivers(t *testing.T) {
	ps, err := NewPubSub(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, ps)

	_, err = NewPubSub(Config{Driver: "nats"})
	assert.Error(t, err)
}

func TestNopSubscriptionClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Nop{}.SubscribePattern(ctx, PatternChatActivity)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}
}
