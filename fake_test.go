package kafka_test

import (
	"context"
	"time"

	kafka "github.com/tikivn/kafka-topic"
)

// fakeClient is an in-memory driver recording what sessions ask for.
type fakeClient struct {
	openErr error

	// records handed out by consumers, in poll order
	records []record

	producers []*fakeProducerTopic
	consumers []*fakeConsumerTopic
}

// record is one poll result: a message, an error, or neither for an
// empty poll.
type record struct {
	msg *kafka.Message
	err error
}

type opened struct {
	brokers    string
	props      kafka.ConfigMap
	topicProps kafka.ConfigMap
	topic      string
}

func (c *fakeClient) OpenProducer(brokers string, props, topicProps kafka.ConfigMap, topic string) (kafka.ProducerTopic, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	p := &fakeProducerTopic{opened: opened{brokers, props, topicProps, topic}}
	c.producers = append(c.producers, p)
	return p, nil
}

func (c *fakeClient) OpenConsumer(brokers string, props, topicProps kafka.ConfigMap, topic string) (kafka.ConsumerTopic, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	cons := &fakeConsumerTopic{
		opened:  opened{brokers, props, topicProps, topic},
		records: append([]record(nil), c.records...),
	}
	c.consumers = append(c.consumers, cons)
	return cons, nil
}

type produced struct {
	partition int32
	key       []byte
	value     []byte
}

type fakeProducerTopic struct {
	opened

	produceErr error
	produced   []produced
	closed     bool
}

func (p *fakeProducerTopic) Produce(partition int32, key, value []byte) error {
	if p.produceErr != nil {
		return p.produceErr
	}
	p.produced = append(p.produced, produced{partition, key, value})
	return nil
}

func (p *fakeProducerTopic) Close() error {
	p.closed = true
	return nil
}

type fakeConsumerTopic struct {
	opened

	startErr error
	records  []record

	startPartition int32
	startOffset    int64
	polls          int
	stopped        []int32
	closed         bool
}

func (c *fakeConsumerTopic) ConsumeStart(partition int32, offset int64) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.startPartition = partition
	c.startOffset = offset
	return nil
}

// Consume hands out the queued records, then reports end of partition.
func (c *fakeConsumerTopic) Consume(ctx context.Context, partition int32, timeout time.Duration) (*kafka.Message, error) {
	c.polls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.records) == 0 {
		return nil, kafka.ErrPartitionEOF
	}
	r := c.records[0]
	c.records = c.records[1:]
	return r.msg, r.err
}

func (c *fakeConsumerTopic) ConsumeStop(partition int32) error {
	c.stopped = append(c.stopped, partition)
	return nil
}

func (c *fakeConsumerTopic) Close() error {
	c.closed = true
	return nil
}

func message(topic string, partition int32, offset int64, key, payload string) record {
	msg := &kafka.Message{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Payload:   []byte(payload),
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return record{msg: msg}
}
