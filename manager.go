package kafka

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Manager holds the named topic sessions of an application. It is filled
// once at startup and only read afterwards; lookups are not synchronized
// with registration.
type Manager struct {
	options Options

	producers map[string]*TopicProducer
	consumers map[string]*TopicConsumer

	closeOnce sync.Once
}

// NewManager creates an empty Manager. The options apply to every session
// it creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		options:   newOptions(opts),
		producers: map[string]*TopicProducer{},
		consumers: map[string]*TopicConsumer{},
	}
}

// AddProducer registers a producer session under name, replacing any
// producer previously registered with that name. A replaced producer is
// stopped first.
func (m *Manager) AddProducer(name, brokers string, props Properties, topic string, topicProps Properties) error {
	p, err := newTopicProducer(brokers, props, topic, topicProps, m.options)
	if err != nil {
		return errors.Wrapf(err, "producer %s", name)
	}

	if old, ok := m.producers[name]; ok && old.IsProducing() {
		if err := old.ProduceStop(); err != nil {
			m.options.Logger.Log("msg", "Replaced producer did not stop cleanly", "producer", name, "err", err)
		}
	}
	m.producers[name] = p
	return nil
}

// Producer returns the producer registered under name.
func (m *Manager) Producer(name string) (*TopicProducer, bool) {
	p, ok := m.producers[name]
	return p, ok
}

// AddConsumer registers a consumer session under name, replacing any
// consumer previously registered with that name. A replaced consumer is
// stopped first.
func (m *Manager) AddConsumer(name, brokers string, props Properties, topic string, topicProps Properties) error {
	c, err := newTopicConsumer(brokers, props, topic, topicProps, m.options)
	if err != nil {
		return errors.Wrapf(err, "consumer %s", name)
	}

	if old, ok := m.consumers[name]; ok && old.IsConsuming() {
		if err := old.ConsumeStop(old.Partition()); err != nil {
			m.options.Logger.Log("msg", "Replaced consumer did not stop cleanly", "consumer", name, "err", err)
		}
	}
	m.consumers[name] = c
	return nil
}

// Consumer returns the consumer registered under name.
func (m *Manager) Consumer(name string) (*TopicConsumer, bool) {
	c, ok := m.consumers[name]
	return c, ok
}

func (m *Manager) ProducerNames() []string {
	names := make([]string, 0, len(m.producers))
	for name := range m.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) ConsumerNames() []string {
	names := make([]string, 0, len(m.consumers))
	for name := range m.consumers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every active session. Only the first call has an effect.
func (m *Manager) Close() (err error) {
	m.closeOnce.Do(func() {
		for _, name := range m.ProducerNames() {
			p := m.producers[name]
			if !p.IsProducing() {
				continue
			}
			if perr := p.ProduceStop(); perr != nil && err == nil {
				err = perr
			}
		}
		for _, name := range m.ConsumerNames() {
			c := m.consumers[name]
			if !c.IsConsuming() {
				continue
			}
			if cerr := c.ConsumeStop(c.Partition()); cerr != nil && err == nil {
				err = cerr
			}
		}
		m.options.Logger.Log("msg", "All sessions stopped")
	})

	return err
}
