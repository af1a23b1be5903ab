package kafka

import (
	"context"
	"time"
)

const (
	// PartitionUnassigned lets the client's partitioner pick the partition.
	PartitionUnassigned int32 = -1

	OffsetBeginning int64 = -2
	OffsetEnd       int64 = -1
	// OffsetStored resumes from the committed offset of the consumer group.
	OffsetStored int64 = -1000
)

// Client opens native broker connections for topic sessions. The option
// maps passed in are already translated to the client's dotted key names.
type Client interface {
	OpenProducer(brokers string, props, topicProps ConfigMap, topic string) (ProducerTopic, error)
	OpenConsumer(brokers string, props, topicProps ConfigMap, topic string) (ConsumerTopic, error)
}

// ProducerTopic is a producer handle bound to a single topic.
type ProducerTopic interface {
	// Produce enqueues a message without waiting for the broker.
	Produce(partition int32, key, value []byte) error
	Close() error
}

// ConsumerTopic is a consumer handle bound to a single topic.
type ConsumerTopic interface {
	ConsumeStart(partition int32, offset int64) error
	// Consume waits at most timeout for the next message of partition. It
	// returns nil, nil when nothing arrived in time.
	Consume(ctx context.Context, partition int32, timeout time.Duration) (*Message, error)
	ConsumeStop(partition int32) error
	Close() error
}

// Message is a record delivered by a ConsumerTopic.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Payload   []byte
}

// MessageHandler receives consumed messages. It runs on the polling
// goroutine, a returned error stops the consume loop.
type MessageHandler interface {
	Consume(topic string, partition int32, offset int64, key, payload []byte) error
}

type HandlerFunc func(topic string, partition int32, offset int64, key, payload []byte) error

func (f HandlerFunc) Consume(topic string, partition int32, offset int64, key, payload []byte) error {
	return f(topic, partition, offset, key, payload)
}
