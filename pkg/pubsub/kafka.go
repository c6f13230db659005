package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/odlemon/khaya-portal-sub001/pkg/log"
)

// KafkaPubSub carries chat activity over Kafka. Every channel of one family
// shares a topic and the chat id is the message key, so a chat's events keep
// their order within a partition.
//
// Each replica consumes with its own group id: fan-out must reach every
// console, not be balanced between them.
type KafkaPubSub struct {
	producer *kafka.Producer
	config   KafkaConfig

	mu      sync.Mutex
	readers map[string]*kafkaReader // channel or pattern → reader
	done    chan struct{}
}

type kafkaReader struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

// NewKafkaPubSub connects a producer and makes sure the activity topic exists.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		producer: p,
		config:   cfg,
		readers:  make(map[string]*kafkaReader),
		done:     make(chan struct{}),
	}
	go k.watchDeliveries()

	if err := k.createTopic(PatternChatActivity); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("kafka activity topic not created")
	}
	return k, nil
}

func (k *KafkaPubSub) createTopic(pattern string) error {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return err
	}

	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{Topic: topic, NumPartitions: partitions, ReplicationFactor: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (k *KafkaPubSub) watchDeliveries() {
	l := log.L()
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Warn().
				Err(m.TopicPartition.Error).
				Str(log.FieldChatID, string(m.Key)).
				Msg("kafka activity delivery failed")
		}
	}
	close(k.done)
}

// Publish produces event to the channel's topic, keyed by chat id.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
		Timestamp:      event.Timestamp,
	}
	if err := k.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe reads one chat's events from the shared topic.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, chatID, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, err
	}
	return k.read(ctx, channel, topic, chatID)
}

// SubscribePattern reads every event of the pattern's topic.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return nil, err
	}
	return k.read(ctx, pattern, topic, "")
}

func (k *KafkaPubSub) groupID() string {
	group := k.config.GroupID
	if group == "" {
		group = "chat-console"
	}
	if k.config.InstanceID != "" {
		group += "-" + k.config.InstanceID
	}
	return group
}

func (k *KafkaPubSub) read(ctx context.Context, name, topic, key string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if r, ok := k.readers[name]; ok {
		r.cancel()
		r.consumer.Close()
		delete(k.readers, name)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           k.groupID(),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	k.readers[name] = &kafkaReader{consumer: c, cancel: cancel}

	out := make(chan *Event, 100)
	go k.poll(readCtx, c, out, key)
	return out, nil
}

func (k *KafkaPubSub) poll(ctx context.Context, c *kafka.Consumer, out chan<- *Event, key string) {
	defer close(out)
	l := log.L()

	for ctx.Err() == nil {
		switch e := c.Poll(500).(type) {
		case *kafka.Message:
			if key != "" && string(e.Key) != key {
				continue
			}
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Debug().Err(err).Str("topic", *e.TopicPartition.Topic).Msg("dropping malformed activity record")
				continue
			}
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str(log.FieldChatID, event.ChatID).Msg("activity subscriber slow, event dropped")
			}
		case kafka.Error:
			l.Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Unsubscribe stops the reader registered under channel.
func (k *KafkaPubSub) Unsubscribe(_ context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	r, ok := k.readers[channel]
	if !ok {
		return nil
	}
	delete(k.readers, channel)
	r.cancel()
	if err := r.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}

// Close stops every reader, flushes pending activity and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	for name, r := range k.readers {
		r.cancel()
		r.consumer.Close()
		delete(k.readers, name)
	}
	k.mu.Unlock()

	if n := k.producer.Flush(5000); n > 0 {
		l := log.L()
		l.Warn().Int("pending", n).Msg("kafka activity not flushed before close")
	}
	k.producer.Close()
	<-k.done
	return nil
}
