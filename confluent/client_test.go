package confluent

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafka2 "github.com/tikivn/kafka-topic"
	"go.uber.org/goleak"
	"gopkg.in/confluentinc/confluent-kafka-go.v1/kafka"
)

type fakeProducer struct {
	events    chan kafka.Event
	produced  []*kafka.Message
	remaining int
	closed    bool
}

func (p *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	p.produced = append(p.produced, msg)
	return nil
}

func (p *fakeProducer) Events() chan kafka.Event { return p.events }
func (p *fakeProducer) Flush(timeoutMs int) int  { return p.remaining }

func (p *fakeProducer) Close() {
	p.closed = true
	close(p.events)
}

type fakeConsumer struct {
	events      []kafka.Event
	polls       []int
	assignments [][]kafka.TopicPartition
	unassigned  int
	closed      bool
}

func (c *fakeConsumer) Assign(partitions []kafka.TopicPartition) error {
	c.assignments = append(c.assignments, partitions)
	return nil
}

func (c *fakeConsumer) Unassign() error {
	c.unassigned++
	return nil
}

func (c *fakeConsumer) Poll(timeoutMs int) kafka.Event {
	c.polls = append(c.polls, timeoutMs)
	if len(c.events) == 0 {
		return nil
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev
}

func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}

func newTestClient(prd *fakeProducer, csm *fakeConsumer, configs *[]kafka.ConfigMap, opts ...Option) *Client {
	c := NewClient(opts...)
	c.newProducer = func(cfg *kafka.ConfigMap) (producerAPI, error) {
		*configs = append(*configs, *cfg)
		return prd, nil
	}
	c.newConsumer = func(cfg *kafka.ConfigMap) (consumerAPI, error) {
		*configs = append(*configs, *cfg)
		return csm, nil
	}
	return c
}

func TestOpenProducerConfig(t *testing.T) {
	defer goleak.VerifyNoLeaks(t)

	var configs []kafka.ConfigMap
	prd := &fakeProducer{events: make(chan kafka.Event)}
	c := newTestClient(prd, nil, &configs)

	p, err := c.OpenProducer("a:9092,b:9092",
		kafka2.ConfigMap{"socket.timeout.ms": int64(5000)},
		kafka2.ConfigMap{"request.required.acks": 1},
		"t")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	require.Len(t, configs, 1)
	assert.Equal(t, kafka.ConfigMap{
		"client.id":            "kafka-topic-session",
		"enable.partition.eof": true,
		"bootstrap.servers":    "a:9092,b:9092",
		"socket.timeout.ms":    5000,
		"default.topic.config": kafka.ConfigMap{"request.required.acks": 1},
	}, configs[0])
	assert.True(t, prd.closed)
}

func TestProducerDeliveryReports(t *testing.T) {
	defer goleak.VerifyNoLeaks(t)

	var configs []kafka.ConfigMap
	registry := metrics.NewRegistry()
	prd := &fakeProducer{events: make(chan kafka.Event, 2), remaining: 1}
	c := newTestClient(prd, nil, &configs, WithRegistry(registry))

	p, err := c.OpenProducer("localhost:9092", nil, nil, "t")
	require.NoError(t, err)
	require.NoError(t, p.Produce(3, []byte("k"), []byte("v")))

	require.Len(t, prd.produced, 1)
	assert.Equal(t, "t", *prd.produced[0].TopicPartition.Topic)
	assert.Equal(t, int32(3), prd.produced[0].TopicPartition.Partition)

	prd.events <- &kafka.Message{TopicPartition: kafka.TopicPartition{Error: errors.New("broker gone")}}
	prd.events <- &kafka.Message{}

	err = p.Close()
	assert.Error(t, err, "one message left in the queue")
	assert.EqualValues(t, 1, registry.Get("producer.t.delivery_errors").(metrics.Counter).Count())
}

func TestOpenConsumerGroupID(t *testing.T) {
	var configs []kafka.ConfigMap
	c := newTestClient(nil, &fakeConsumer{}, &configs)

	_, err := c.OpenConsumer("localhost:9092", kafka2.ConfigMap{"group.id": "workers"}, nil, "t")
	require.NoError(t, err)
	_, err = c.OpenConsumer("localhost:9092", nil, nil, "t")
	require.NoError(t, err)

	assert.Equal(t, "workers", configs[0]["group.id"])
	assert.NotEqual(t, "", configs[1]["group.id"])
	assert.NotContains(t, configs[1], "default.topic.config")
}

func TestConsumerAssignment(t *testing.T) {
	var configs []kafka.ConfigMap
	csm := &fakeConsumer{}
	ct, err := newTestClient(nil, csm, &configs).OpenConsumer("localhost:9092", nil, nil, "t")
	require.NoError(t, err)

	require.NoError(t, ct.ConsumeStart(2, kafka2.OffsetBeginning))
	require.NoError(t, ct.ConsumeStart(0, 5))
	err = ct.ConsumeStart(0, 5)
	assert.True(t, errors.Is(err, kafka2.ErrAlreadyActive), "got %v", err)

	require.Len(t, csm.assignments, 2)
	last := csm.assignments[1]
	require.Len(t, last, 2)
	assert.Equal(t, int32(0), last[0].Partition)
	assert.Equal(t, kafka.Offset(5), last[0].Offset)
	assert.Equal(t, int32(2), last[1].Partition)
	assert.Equal(t, kafka.OffsetBeginning, last[1].Offset)

	require.NoError(t, ct.ConsumeStop(0))
	require.NoError(t, ct.ConsumeStop(0))
	require.NoError(t, ct.ConsumeStop(2))
	assert.Len(t, csm.assignments, 3)
	assert.Equal(t, 1, csm.unassigned)

	require.NoError(t, ct.Close())
	assert.True(t, csm.closed)
}

func TestConsumerPoll(t *testing.T) {
	topic := "t"
	csm := &fakeConsumer{events: []kafka.Event{
		kafka.OffsetsCommitted{},
		kafka.NewError(kafka.ErrTransport, "broker down", false),
		&kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 1, Offset: 9}},
		&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 3},
			Key:            []byte("k"),
			Value:          []byte("v"),
		},
		kafka.PartitionEOF{Topic: &topic, Partition: 0, Offset: 4},
		kafka.NewError(kafka.ErrFatal, "fenced", true),
	}}
	var configs []kafka.ConfigMap
	ct, err := newTestClient(nil, csm, &configs).OpenConsumer("localhost:9092", nil, nil, topic)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = ct.Consume(ctx, 0, time.Second)
	assert.True(t, errors.Is(err, kafka2.ErrNotStarted), "got %v", err)

	require.NoError(t, ct.ConsumeStart(0, kafka2.OffsetBeginning))

	msg, err := ct.Consume(ctx, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, &kafka2.Message{Topic: "t", Partition: 0, Offset: 3, Key: []byte("k"), Payload: []byte("v")}, msg)

	_, err = ct.Consume(ctx, 0, time.Second)
	assert.Equal(t, kafka2.ErrPartitionEOF, err)

	_, err = ct.Consume(ctx, 0, time.Second)
	require.Error(t, err)
	assert.True(t, err.(kafka.Error).IsFatal())

	msg, err = ct.Consume(ctx, 0, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestConsumerPollZeroTimeout(t *testing.T) {
	topic := "t"
	csm := &fakeConsumer{events: []kafka.Event{
		&kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 0}, Value: []byte("first")},
		kafka.OffsetsCommitted{},
		&kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 1}, Value: []byte("second")},
	}}
	var configs []kafka.ConfigMap
	ct, err := newTestClient(nil, csm, &configs).OpenConsumer("localhost:9092", nil, nil, topic)
	require.NoError(t, err)
	require.NoError(t, ct.ConsumeStart(0, kafka2.OffsetBeginning))

	ctx := context.Background()
	msg, err := ct.Consume(ctx, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []byte("first"), msg.Payload)

	// An ignored event spends the budget, the next call picks up the message.
	msg, err = ct.Consume(ctx, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = ct.Consume(ctx, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []byte("second"), msg.Payload)

	assert.Equal(t, []int{0, 0, 0}, csm.polls)
}
