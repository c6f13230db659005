package pubsub

import (
	"fmt"
	"strings"
	"time"
)

// Channel naming: chat:{chatID}:activity carries list-level changes of one
// chat so every console replica can refresh its sidebar.
const (
	ChannelChatActivity = "chat:%s:activity"
	PatternChatActivity = "chat:*:activity"
)

// Event types published on chat activity channels.
const (
	EventChatActivity = "chat_activity"
)

// ChatActivityChannel returns the channel name for a chat's activity events.
func ChatActivityChannel(chatID string) string {
	return fmt.Sprintf(ChannelChatActivity, chatID)
}

// ChatActivityPayload describes the newest message of a chat.
type ChatActivityPayload struct {
	ChatID      string    `json:"chat_id"`
	MessageID   string    `json:"message_id"`
	SenderRole  string    `json:"sender_role"`
	Preview     string    `json:"preview"`
	UpdatedAt   time.Time `json:"updated_at"`
	PublishedBy string    `json:"published_by,omitempty"`
}

// channelToTopicAndKey converts a channel to a Kafka topic and message key.
//
//	"chat:CHAT42:activity" → topic: "chat-activity", key: "CHAT42"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0] + "-" + strings.ReplaceAll(parts[2], "_", "-"), parts[1], nil
}

// patternToTopic converts a subscribe pattern to a Kafka topic.
//
//	"chat:*:activity" → "chat-activity"
func patternToTopic(pattern string) (string, error) {
	topic, _, err := channelToTopicAndKey(strings.ReplaceAll(pattern, "*", "_any_"))
	return topic, err
}
