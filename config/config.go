// Package config loads topic session definitions from a configuration file
// and the environment, and validates their options against the ranges the
// native client documents.
package config

import (
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	kafka "github.com/tikivn/kafka-topic"
)

const (
	DriverSarama    = "sarama"
	DriverConfluent = "confluent"
)

// Config is the root of the configuration tree.
type Config struct {
	Driver    string           `mapstructure:"driver" validate:"omitempty,oneof=sarama confluent"`
	Producers map[string]Topic `mapstructure:"producers" validate:"dive"`
	Consumers map[string]Topic `mapstructure:"consumers" validate:"dive"`
}

// Topic defines one named producer or consumer.
type Topic struct {
	Brokers         string                 `mapstructure:"brokers" validate:"required"`
	Topic           string                 `mapstructure:"topic" validate:"required"`
	Properties      map[string]interface{} `mapstructure:"properties"`
	TopicProperties map[string]interface{} `mapstructure:"topic_properties"`
}

// Load reads the file at path, lets environment variables prefixed with
// envPrefix override its keys, and validates the result.
func Load(path, envPrefix string) (*Config, error) {
	v := viper.New()
	v.SetDefault("driver", DriverSarama)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "could not read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and option ranges. Option values are
// normalized to int, bool or string in place.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(kafka.ErrConfig, err.Error())
	}

	for _, name := range sortedNames(c.Producers) {
		t := c.Producers[name]
		if err := t.normalize(connectionRules, producerTopicRules); err != nil {
			return errors.Wrapf(err, "producer %s", name)
		}
		c.Producers[name] = t
	}
	for _, name := range sortedNames(c.Consumers) {
		t := c.Consumers[name]
		if err := t.normalize(connectionRules, consumerTopicRules); err != nil {
			return errors.Wrapf(err, "consumer %s", name)
		}
		c.Consumers[name] = t
	}
	return nil
}

func (t *Topic) normalize(props, topicProps rules) error {
	p, err := props.apply("properties", t.Properties)
	if err != nil {
		return err
	}
	tp, err := topicProps.apply("topic_properties", t.TopicProperties)
	if err != nil {
		return err
	}
	t.Properties, t.TopicProperties = p, tp
	return nil
}

// Register adds every configured session to m.
func (c *Config) Register(m *kafka.Manager) error {
	for _, name := range sortedNames(c.Producers) {
		t := c.Producers[name]
		if err := m.AddProducer(name, t.Brokers, t.Properties, t.Topic, t.TopicProperties); err != nil {
			return err
		}
	}
	for _, name := range sortedNames(c.Consumers) {
		t := c.Consumers[name]
		if err := m.AddConsumer(name, t.Brokers, t.Properties, t.Topic, t.TopicProperties); err != nil {
			return err
		}
	}
	return nil
}

func sortedNames(topics map[string]Topic) []string {
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var validate = validator.New()
