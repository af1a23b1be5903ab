package confluent

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	kafka2 "github.com/tikivn/kafka-topic"
	"gopkg.in/confluentinc/confluent-kafka-go.v1/kafka"
)

// consumerAPI is the part of *kafka.Consumer the driver relies on.
type consumerAPI interface {
	Assign(partitions []kafka.TopicPartition) error
	Unassign() error
	Poll(timeoutMs int) kafka.Event
	Close() error
}

type confluentKafkaConsumer struct {
	csm      consumerAPI
	topic    string
	assigned map[int32]kafka.Offset
}

func newConsumer(c *Client, cfg *kafka.ConfigMap, topic string) (kafka2.ConsumerTopic, error) {
	csm, err := c.newConsumer(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "Cannot create kafka consumer for topic %s", topic)
	}

	return &confluentKafkaConsumer{
		csm:      csm,
		topic:    topic,
		assigned: map[int32]kafka.Offset{},
	}, nil
}

func (c *confluentKafkaConsumer) ConsumeStart(partition int32, offset int64) error {
	if _, ok := c.assigned[partition]; ok {
		return errors.Wrapf(kafka2.ErrAlreadyActive, "partition %d", partition)
	}

	c.assigned[partition] = kafka.Offset(offset)
	if err := c.assign(); err != nil {
		delete(c.assigned, partition)
		return err
	}
	return nil
}

// assign hands the full set of started partitions to librdkafka, which
// replaces any previous assignment.
func (c *confluentKafkaConsumer) assign() error {
	if len(c.assigned) == 0 {
		return c.csm.Unassign()
	}

	partitions := make([]kafka.TopicPartition, 0, len(c.assigned))
	for partition, offset := range c.assigned {
		partitions = append(partitions, kafka.TopicPartition{
			Topic:     &c.topic,
			Partition: partition,
			Offset:    offset,
		})
	}
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Partition < partitions[j].Partition
	})

	return c.csm.Assign(partitions)
}

func (c *confluentKafkaConsumer) Consume(ctx context.Context, partition int32, timeout time.Duration) (*kafka2.Message, error) {
	if _, ok := c.assigned[partition]; !ok {
		return nil, errors.Wrapf(kafka2.ErrNotStarted, "partition %d", partition)
	}

	// Poll at least once, a zero timeout only makes that poll non-blocking.
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev := c.csm.Poll(remainingMs(deadline))
		switch e := ev.(type) {
		case nil:
			return nil, nil

		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				if err := c.handleError(e.TopicPartition.Error); err != nil {
					return nil, err
				}
			} else if e.TopicPartition.Partition == partition {
				return msgToMessage(e), nil
			}

		case kafka.PartitionEOF:
			if e.Partition == partition {
				return nil, kafka2.ErrPartitionEOF
			}

		case kafka.Error:
			if err := c.handleError(e); err != nil {
				return nil, err
			}

		default:
			logrus.Debugf("Ignored event %s on topic %s", e, c.topic)
		}

		if time.Until(deadline) <= 0 {
			return nil, nil
		}
	}
}

func remainingMs(deadline time.Time) int {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Millisecond)
}

// handleError logs transient client errors and returns the fatal ones.
func (c *confluentKafkaConsumer) handleError(err error) error {
	if kerr, ok := err.(kafka.Error); ok {
		if kerr.Code() == kafka.ErrPartitionEOF {
			return kafka2.ErrPartitionEOF
		}
		if kerr.IsFatal() {
			return kerr
		}
	}

	logrus.WithError(err).WithField("topic", c.topic).Warn("Consumer error")
	return nil
}

func (c *confluentKafkaConsumer) ConsumeStop(partition int32) error {
	if _, ok := c.assigned[partition]; !ok {
		return nil
	}

	delete(c.assigned, partition)
	return c.assign()
}

func (c *confluentKafkaConsumer) Close() error {
	return c.csm.Close()
}
