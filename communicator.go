package kafka

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Properties holds options as named by the configuration layer, with
// underscores as separators (e.g. "session_timeout_ms").
type Properties map[string]interface{}

// ConfigMap holds options named the way the native client expects them
// (e.g. "session.timeout.ms").
type ConfigMap map[string]interface{}

// communicator is the part shared by producer and consumer sessions: an
// immutable copy of the connection and topic configuration.
type communicator struct {
	brokers    string
	props      Properties
	topic      string
	topicProps Properties
}

func newCommunicator(brokers string, props Properties, topic string, topicProps Properties) (communicator, error) {
	if strings.TrimSpace(brokers) == "" {
		return communicator{}, errors.Wrap(ErrConfig, "broker list can't be empty")
	}
	if strings.TrimSpace(topic) == "" {
		return communicator{}, errors.Wrap(ErrConfig, "topic can't be empty")
	}

	return communicator{
		brokers:    brokers,
		props:      props.clone(),
		topic:      topic,
		topicProps: topicProps.clone(),
	}, nil
}

// Brokers returns the comma separated broker list.
func (c communicator) Brokers() string {
	return c.brokers
}

func (c communicator) Topic() string {
	return c.topic
}

// configMaps materializes the connection and topic options for the client.
func (c communicator) configMaps() (ConfigMap, ConfigMap) {
	return c.props.ConfigMap(), c.topicProps.ConfigMap()
}

// ConfigMap translates every key to the client's dotted naming. Keys the
// client doesn't know are passed along untouched.
func (p Properties) ConfigMap() ConfigMap {
	m := make(ConfigMap, len(p))
	for name, value := range p {
		m[strings.Replace(name, "_", ".", -1)] = value
	}
	return m
}

func (p Properties) clone() Properties {
	if p == nil {
		return nil
	}
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// SplitBrokers turns a comma separated broker list into addresses.
func SplitBrokers(brokers string) []string {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return addrs
}

// GroupID returns the configured group id, or a unique one derived from the
// topic when none is set.
func (m ConfigMap) GroupID(topic string) string {
	if id, ok := m["group.id"]; ok && id != nil {
		if s := fmt.Sprint(id); s != "" {
			return s
		}
	}
	return fmt.Sprintf("%s-%s", topic, uuid.New())
}
