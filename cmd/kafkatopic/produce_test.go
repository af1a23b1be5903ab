package main

import (
	"bytes"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafka "github.com/tikivn/kafka-topic"
)

// stubClient opens producer handles that fail the way the test asks.
type stubClient struct {
	produceErr error
	closeErr   error
	produced   [][]byte
	closed     int
}

func (c *stubClient) OpenProducer(brokers string, props, topicProps kafka.ConfigMap, topic string) (kafka.ProducerTopic, error) {
	return &stubProducerTopic{client: c}, nil
}

func (c *stubClient) OpenConsumer(brokers string, props, topicProps kafka.ConfigMap, topic string) (kafka.ConsumerTopic, error) {
	return nil, errors.New("not supported")
}

type stubProducerTopic struct {
	client *stubClient
}

func (p *stubProducerTopic) Produce(partition int32, key, value []byte) error {
	if p.client.produceErr != nil {
		return p.client.produceErr
	}
	p.client.produced = append(p.client.produced, value)
	return nil
}

func (p *stubProducerTopic) Close() error {
	p.client.closed++
	return p.client.closeErr
}

func newStubProducer(t *testing.T, client *stubClient) *kafka.TopicProducer {
	p, err := kafka.NewTopicProducer("localhost:9092", nil, "t", nil, kafka.WithClient(client))
	require.NoError(t, err)
	return p
}

func TestProduceOnce(t *testing.T) {
	client := &stubClient{}
	p := newStubProducer(t, client)

	require.NoError(t, produceOnce(log.NewNopLogger(), p, []byte("hello"), kafka.PartitionUnassigned, nil))
	assert.Equal(t, [][]byte{[]byte("hello")}, client.produced)
	assert.Equal(t, 1, client.closed)
	assert.False(t, p.IsProducing())
}

func TestProduceOnceLogsFailedStop(t *testing.T) {
	var buf bytes.Buffer
	client := &stubClient{
		produceErr: errors.New("queue full"),
		closeErr:   errors.New("flush timed out"),
	}
	p := newStubProducer(t, client)

	err := produceOnce(log.NewLogfmtLogger(&buf), p, []byte("hello"), 0, nil)
	assert.Equal(t, "queue full", errors.Cause(err).Error())
	assert.Equal(t, 1, client.closed)
	assert.False(t, p.IsProducing())
	assert.Contains(t, buf.String(), "level=warn")
	assert.Contains(t, buf.String(), "flush timed out")
}
