package kafka

import (
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
)

// TopicProducer is a send-path session on a single topic. It cycles
// between idle and producing, a stopped producer can be started again.
//
// A TopicProducer must not be used from several goroutines at once.
type TopicProducer struct {
	communicator

	client Client
	logger KeyValueLogger

	producerTopic ProducerTopic
	isProducing   bool

	started       metrics.Counter
	stopped       metrics.Counter
	produced      metrics.Counter
	produceErrors metrics.Counter
}

// NewTopicProducer creates an idle producer session.
func NewTopicProducer(
	brokers string,
	props Properties,
	topic string,
	topicProps Properties,
	opts ...Option,
) (*TopicProducer, error) {
	return newTopicProducer(brokers, props, topic, topicProps, newOptions(opts))
}

func newTopicProducer(brokers string, props Properties, topic string, topicProps Properties, options Options) (*TopicProducer, error) {
	c, err := newCommunicator(brokers, props, topic, topicProps)
	if err != nil {
		return nil, err
	}

	prefix := "producer." + topic + "."
	return &TopicProducer{
		communicator:  c,
		client:        options.Client,
		logger:        options.Logger,
		started:       metrics.GetOrRegisterCounter(prefix+"started", options.Registry),
		stopped:       metrics.GetOrRegisterCounter(prefix+"stopped", options.Registry),
		produced:      metrics.GetOrRegisterCounter(prefix+"produced", options.Registry),
		produceErrors: metrics.GetOrRegisterCounter(prefix+"produce_errors", options.Registry),
	}, nil
}

// IsProducing reports whether ProduceStart has been called without a
// matching ProduceStop.
func (p *TopicProducer) IsProducing() bool {
	return p.isProducing
}

// ProduceStart connects to the brokers and opens the topic.
func (p *TopicProducer) ProduceStart() error {
	if p.isProducing {
		return errors.Wrapf(ErrAlreadyActive, "topic %s is already producing", p.topic)
	}

	props, topicProps := p.configMaps()
	producerTopic, err := p.client.OpenProducer(p.brokers, props, topicProps, p.topic)
	if err != nil {
		return errors.Wrapf(err, "could not start producing to topic %s", p.topic)
	}

	p.producerTopic = producerTopic
	p.isProducing = true
	p.started.Inc(1)
	p.logger.Log("msg", "Producer started", "topic", p.topic, "brokers", p.brokers)
	return nil
}

// Produce enqueues payload for delivery. partition may be
// PartitionUnassigned, key may be nil. The call does not wait for the
// broker, delivery failures are reported by the client.
func (p *TopicProducer) Produce(payload []byte, partition int32, key []byte) error {
	if !p.isProducing {
		return errors.Wrap(ErrNotStarted, "call ProduceStart first to start producing messages")
	}

	if err := p.producerTopic.Produce(partition, key, payload); err != nil {
		p.produceErrors.Inc(1)
		return errors.Wrapf(err, "could not produce to topic %s partition %d", p.topic, partition)
	}

	p.produced.Inc(1)
	return nil
}

// ProduceStop releases the topic handle. It is safe to call on an idle
// producer. The session is idle afterwards even if closing failed.
func (p *TopicProducer) ProduceStop() error {
	producerTopic := p.producerTopic
	wasProducing := p.isProducing
	p.producerTopic = nil
	p.isProducing = false

	if producerTopic == nil {
		return nil
	}
	if wasProducing {
		p.stopped.Inc(1)
	}

	if err := producerTopic.Close(); err != nil {
		p.logger.Log("msg", "Producer close failed", "topic", p.topic, "err", err)
		return errors.Wrapf(err, "could not stop producing to topic %s", p.topic)
	}

	p.logger.Log("msg", "Producer stopped", "topic", p.topic)
	return nil
}
