package confluent

import (
	"time"

	"github.com/rcrowley/go-metrics"
	kafka2 "github.com/tikivn/kafka-topic"
	"gopkg.in/confluentinc/confluent-kafka-go.v1/kafka"
)

// Client is the librdkafka driver for topic sessions.
type Client struct {
	cfg          kafka.ConfigMap
	flushTimeout time.Duration
	registry     metrics.Registry

	newProducer func(*kafka.ConfigMap) (producerAPI, error)
	newConsumer func(*kafka.ConfigMap) (consumerAPI, error)
}

type Option func(c *Client)

// WithConfig replaces the base configuration that session options are
// applied on top of.
func WithConfig(cfg kafka.ConfigMap) Option {
	return func(c *Client) {
		c.cfg = cfg
	}
}

// WithFlushTimeout bounds how long stopping a producer waits for queued
// messages to be delivered.
func WithFlushTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.flushTimeout = timeout
	}
}

func WithRegistry(registry metrics.Registry) Option {
	return func(c *Client) {
		c.registry = registry
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		cfg:          NewConfig(),
		flushTimeout: 10 * time.Second,
		registry:     metrics.NewRegistry(),
		newProducer: func(cfg *kafka.ConfigMap) (producerAPI, error) {
			return kafka.NewProducer(cfg)
		},
		newConsumer: func(cfg *kafka.ConfigMap) (consumerAPI, error) {
			return kafka.NewConsumer(cfg)
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func NewConfig() kafka.ConfigMap {
	return kafka.ConfigMap{
		"client.id":            "kafka-topic-session",
		"enable.partition.eof": true,
	}
}

func (c *Client) OpenProducer(brokers string, props, topicProps kafka2.ConfigMap, topic string) (kafka2.ProducerTopic, error) {
	cfg := c.configMap(brokers, props, topicProps)
	return newProducer(c, cfg, topic)
}

func (c *Client) OpenConsumer(brokers string, props, topicProps kafka2.ConfigMap, topic string) (kafka2.ConsumerTopic, error) {
	cfg := c.configMap(brokers, props, topicProps)
	(*cfg)["group.id"] = props.GroupID(topic)
	return newConsumer(c, cfg, topic)
}

// configMap merges the base configuration with the session options. Topic
// options are passed as the default topic configuration.
func (c *Client) configMap(brokers string, props, topicProps kafka2.ConfigMap) *kafka.ConfigMap {
	cfg := kafka.ConfigMap{}
	for k, v := range c.cfg {
		cfg[k] = v
	}
	for k, v := range props {
		cfg[k] = nativeValue(v)
	}
	cfg["bootstrap.servers"] = brokers

	if len(topicProps) > 0 {
		topicCfg := kafka.ConfigMap{}
		for k, v := range topicProps {
			topicCfg[k] = nativeValue(v)
		}
		cfg["default.topic.config"] = topicCfg
	}

	return &cfg
}

// nativeValue narrows values to the types librdkafka's ConfigMap accepts.
func nativeValue(v interface{}) kafka.ConfigValue {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case uint:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	}
	return v
}

func msgToMessage(m *kafka.Message) *kafka2.Message {
	msg := &kafka2.Message{
		Partition: m.TopicPartition.Partition,
		Offset:    int64(m.TopicPartition.Offset),
		Key:       m.Key,
		Payload:   m.Value,
	}
	if m.TopicPartition.Topic != nil {
		msg.Topic = *(m.TopicPartition.Topic)
	}
	return msg
}

type none struct{}
