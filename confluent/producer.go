package confluent

import (
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	kafka2 "github.com/tikivn/kafka-topic"
	"gopkg.in/confluentinc/confluent-kafka-go.v1/kafka"
)

// producerAPI is the part of *kafka.Producer the driver relies on.
type producerAPI interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

type confluentKafkaProducer struct {
	prd          producerAPI
	topic        string
	flushTimeout int
	reported     chan none
}

func newProducer(c *Client, cfg *kafka.ConfigMap, topic string) (kafka2.ProducerTopic, error) {
	prd, err := c.newProducer(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "Cannot create kafka producer for topic %s", topic)
	}

	p := &confluentKafkaProducer{
		prd:          prd,
		topic:        topic,
		flushTimeout: int(c.flushTimeout.Milliseconds()),
		reported:     make(chan none),
	}
	go p.deliveryReports(metrics.GetOrRegisterCounter("producer."+topic+".delivery_errors", c.registry))

	return p, nil
}

// deliveryReports drains the producer events until the producer is closed.
func (p *confluentKafkaProducer) deliveryReports(failed metrics.Counter) {
	defer close(p.reported)

	for ev := range p.prd.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				failed.Inc(1)
				logrus.WithError(e.TopicPartition.Error).
					WithField("topic", p.topic).
					WithField("partition", e.TopicPartition.Partition).
					Warn("Delivery failed")
			}
		case kafka.Error:
			logrus.WithError(e).WithField("topic", p.topic).Warn("Producer error")
		}
	}
}

func (p *confluentKafkaProducer) Produce(partition int32, key, value []byte) error {
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: partition,
		},
		Value: value,
		Key:   key,
	}

	return p.prd.Produce(message, nil)
}

func (p *confluentKafkaProducer) Close() error {
	remaining := p.prd.Flush(p.flushTimeout)
	p.prd.Close()
	<-p.reported

	if remaining > 0 {
		return errors.Errorf("%d messages to topic %s were not delivered", remaining, p.topic)
	}
	return nil
}
