package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
)

const DefaultPollTimeout = time.Second

// TopicConsumer is a receive-path session on a single topic partition. It
// cycles between idle and consuming, a stopped consumer can be started
// again.
//
// A TopicConsumer must not be used from several goroutines at once.
type TopicConsumer struct {
	communicator

	client    Client
	logger    KeyValueLogger
	stopAtEOF bool

	consumerTopic ConsumerTopic
	partition     int32
	isConsuming   bool

	started       metrics.Counter
	stopped       metrics.Counter
	consumed      metrics.Counter
	emptyPolls    metrics.Counter
	handlerErrors metrics.Counter
}

// NewTopicConsumer creates an idle consumer session.
func NewTopicConsumer(
	brokers string,
	props Properties,
	topic string,
	topicProps Properties,
	opts ...Option,
) (*TopicConsumer, error) {
	return newTopicConsumer(brokers, props, topic, topicProps, newOptions(opts))
}

func newTopicConsumer(brokers string, props Properties, topic string, topicProps Properties, options Options) (*TopicConsumer, error) {
	c, err := newCommunicator(brokers, props, topic, topicProps)
	if err != nil {
		return nil, err
	}

	prefix := "consumer." + topic + "."
	return &TopicConsumer{
		communicator:  c,
		client:        options.Client,
		logger:        options.Logger,
		stopAtEOF:     options.StopAtEOF,
		started:       metrics.GetOrRegisterCounter(prefix+"started", options.Registry),
		stopped:       metrics.GetOrRegisterCounter(prefix+"stopped", options.Registry),
		consumed:      metrics.GetOrRegisterCounter(prefix+"consumed", options.Registry),
		emptyPolls:    metrics.GetOrRegisterCounter(prefix+"empty_polls", options.Registry),
		handlerErrors: metrics.GetOrRegisterCounter(prefix+"handler_errors", options.Registry),
	}, nil
}

func (c *TopicConsumer) IsConsuming() bool {
	return c.isConsuming
}

// ConsumeStart connects to the brokers and starts fetching partition from
// offset. offset is an absolute offset or one of OffsetBeginning,
// OffsetEnd and OffsetStored.
func (c *TopicConsumer) ConsumeStart(offset int64, partition int32) error {
	if c.isConsuming {
		return errors.Wrapf(ErrAlreadyActive, "topic %s is already consuming", c.topic)
	}
	if partition < 0 {
		return errors.Wrapf(ErrConfig, "invalid partition %d", partition)
	}
	if offset < 0 && offset != OffsetBeginning && offset != OffsetEnd && offset != OffsetStored {
		return errors.Wrapf(ErrConfig, "invalid offset %d", offset)
	}

	props, topicProps := c.configMaps()
	consumerTopic, err := c.client.OpenConsumer(c.brokers, props, topicProps, c.topic)
	if err != nil {
		return errors.Wrapf(err, "could not start consuming topic %s", c.topic)
	}

	if err := consumerTopic.ConsumeStart(partition, offset); err != nil {
		if cerr := consumerTopic.Close(); cerr != nil {
			c.logger.Log("msg", "Consumer close failed", "topic", c.topic, "err", cerr)
		}
		return errors.Wrapf(err, "could not start consuming topic %s partition %d", c.topic, partition)
	}

	c.consumerTopic = consumerTopic
	c.partition = partition
	c.isConsuming = true
	c.started.Inc(1)
	c.logger.Log("msg", "Consumer started", "topic", c.topic, "partition", partition, "offset", offset)
	return nil
}

// Consume polls partition and hands every message to handler before
// polling again. Each poll waits at most timeout, an empty poll is not an
// error.
//
// The loop runs until ctx is done, the handler fails, the client reports
// an error, or, with WithStopAtEOF, the end of the partition is reached.
func (c *TopicConsumer) Consume(ctx context.Context, handler MessageHandler, partition int32, timeout time.Duration) error {
	if handler == nil {
		return ErrHandlerNil
	}
	if f, ok := handler.(HandlerFunc); ok && f == nil {
		return ErrHandlerNil
	}
	if !c.isConsuming {
		return errors.Wrap(ErrNotStarted, "call ConsumeStart first to start consuming messages")
	}
	if partition != c.partition {
		return errors.Wrapf(ErrNotStarted, "partition %d of topic %s is not being consumed", partition, c.topic)
	}
	if timeout < 0 {
		timeout = DefaultPollTimeout
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := c.consumerTopic.Consume(ctx, partition, timeout)
		if err != nil {
			if errors.Is(err, ErrPartitionEOF) {
				if c.stopAtEOF {
					c.logger.Log("msg", "Reached end of partition", "topic", c.topic, "partition", partition)
					return nil
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "could not consume topic %s partition %d", c.topic, partition)
		}

		if msg == nil {
			c.emptyPolls.Inc(1)
			continue
		}

		if err := handler.Consume(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Payload); err != nil {
			c.handlerErrors.Inc(1)
			return errors.Wrapf(err, "could not handle message %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		}
		c.consumed.Inc(1)
	}
}

// ConsumeStop stops fetching partition and releases the topic handle. It
// is safe to call on an idle consumer. The session is idle afterwards even
// if the client failed to stop.
func (c *TopicConsumer) ConsumeStop(partition int32) error {
	consumerTopic := c.consumerTopic
	c.consumerTopic = nil
	c.isConsuming = false

	if consumerTopic == nil {
		return nil
	}
	c.stopped.Inc(1)

	var result error
	if err := consumerTopic.ConsumeStop(partition); err != nil {
		c.logger.Log("msg", "Consumer stop failed", "topic", c.topic, "partition", partition, "err", err)
		result = errors.Wrapf(err, "could not stop consuming topic %s partition %d", c.topic, partition)
	}
	if err := consumerTopic.Close(); err != nil {
		c.logger.Log("msg", "Consumer close failed", "topic", c.topic, "err", err)
		if result == nil {
			result = errors.Wrapf(err, "could not close consumer of topic %s", c.topic)
		}
	}

	c.logger.Log("msg", "Consumer stopped", "topic", c.topic, "partition", partition)
	return result
}

// Partition returns the partition being consumed.
func (c *TopicConsumer) Partition() int32 {
	return c.partition
}
