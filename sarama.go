package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cast"
)

// NewClient returns the pure Go client driver.
func NewClient() Client {
	return NewClientWithConfig(NewConfig(), log.NewNopLogger())
}

// NewConfig returns the base sarama configuration that session options are
// applied on top of.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "kafka-topic-session"
	cfg.Version = sarama.V2_0_0_0

	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = time.Second
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	return cfg
}

type kafkaClient struct {
	config *sarama.Config
	logger KeyValueLogger
}

func NewClientWithConfig(cfg *sarama.Config, logger KeyValueLogger) Client {
	return &kafkaClient{
		config: cfg,
		logger: logger,
	}
}

func (c *kafkaClient) OpenProducer(brokers string, props, topicProps ConfigMap, topic string) (ProducerTopic, error) {
	cfg, _, err := c.sessionConfig(props, topicProps)
	if err != nil {
		return nil, err
	}
	cfg.Producer.Partitioner = newExplicitPartitioner

	client, err := sarama.NewClient(SplitBrokers(brokers), cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", brokers)
	}

	p, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "could not create producer for topic %s", topic)
	}

	return newProducer(client, p, topic, c.logger, cfg.MetricRegistry), nil
}

func (c *kafkaClient) OpenConsumer(brokers string, props, topicProps ConfigMap, topic string) (ConsumerTopic, error) {
	cfg, extra, err := c.sessionConfig(props, topicProps)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(SplitBrokers(brokers), cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", brokers)
	}

	csm, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "could not create consumer for topic %s", topic)
	}

	return &consumer{
		client:     client,
		consumer:   csm,
		topic:      topic,
		groupID:    props.GroupID(topic),
		autoCommit: extra.autoCommit && props["group.id"] != nil,
		logger:     c.logger,
		partitions: map[int32]*partitionConsumer{},
	}, nil
}

// sessionExtra carries options that have no sarama.Config counterpart and
// are honoured by the driver itself. Offsets are only committed for an
// explicitly configured group.
type sessionExtra struct {
	autoCommit bool
}

func (c *kafkaClient) sessionConfig(props, topicProps ConfigMap) (*sarama.Config, sessionExtra, error) {
	cfgCopy := *c.config
	cfg := &cfgCopy
	extra := sessionExtra{autoCommit: true}
	tlsFiles := map[string]string{}

	for _, m := range []ConfigMap{props, topicProps} {
		for key, value := range m {
			ok, err := applyProperty(cfg, &extra, tlsFiles, key, value)
			if err != nil {
				return nil, extra, errors.Wrapf(ErrConfig, "property %s: %s", key, err)
			}
			if !ok {
				c.logger.Log("msg", "Property not supported by sarama driver, ignored", "property", key)
			}
		}
	}

	if cfg.Net.TLS.Enable {
		tc, err := buildTLSConfig(tlsFiles)
		if err != nil {
			return nil, extra, errors.Wrap(ErrConfig, err.Error())
		}
		cfg.Net.TLS.Config = tc
	}

	if err := cfg.Validate(); err != nil {
		return nil, extra, errors.Wrap(ErrConfig, err.Error())
	}
	return cfg, extra, nil
}

func milliseconds(value interface{}) (time.Duration, error) {
	ms, err := cast.ToInt64E(value)
	return time.Duration(ms) * time.Millisecond, err
}

// applyProperty maps a native client option onto cfg. It reports false for
// options this driver doesn't know.
func applyProperty(cfg *sarama.Config, extra *sessionExtra, tlsFiles map[string]string, key string, value interface{}) (bool, error) {
	var err error
	switch key {
	case "client.id":
		cfg.ClientID, err = cast.ToStringE(value)
	case "group.id":
		// Used for stored offsets, see consumer.
	case "message.max.bytes":
		cfg.Producer.MaxMessageBytes, err = cast.ToIntE(value)
	case "receive.message.max.bytes":
		var n int32
		n, err = cast.ToInt32E(value)
		cfg.Consumer.Fetch.Max = n
	case "max.in.flight.requests.per.connection":
		cfg.Net.MaxOpenRequests, err = cast.ToIntE(value)
	case "topic.metadata.refresh.interval.ms":
		var d time.Duration
		d, err = milliseconds(value)
		if d < 0 {
			d = 0
		}
		cfg.Metadata.RefreshFrequency = d
	case "socket.timeout.ms":
		var d time.Duration
		d, err = milliseconds(value)
		cfg.Net.DialTimeout, cfg.Net.ReadTimeout, cfg.Net.WriteTimeout = d, d, d
	case "socket.keepalive.enable":
		var on bool
		on, err = cast.ToBoolE(value)
		if on {
			cfg.Net.KeepAlive = 30 * time.Second
		}
	case "security.protocol":
		var proto string
		proto, err = cast.ToStringE(value)
		switch strings.ToLower(proto) {
		case "plaintext":
		case "ssl":
			cfg.Net.TLS.Enable = true
		case "sasl_plaintext":
			cfg.Net.SASL.Enable = true
		case "sasl_ssl":
			cfg.Net.SASL.Enable = true
			cfg.Net.TLS.Enable = true
		default:
			err = errors.Errorf("unknown security protocol %q", proto)
		}
	case "sasl.mechanisms":
		var mechanism string
		mechanism, err = cast.ToStringE(value)
		if err == nil && mechanism != "PLAIN" {
			err = errors.Errorf("SASL mechanism %s is not supported", mechanism)
		}
	case "sasl.username":
		cfg.Net.SASL.User, err = cast.ToStringE(value)
	case "sasl.password":
		cfg.Net.SASL.Password, err = cast.ToStringE(value)
	case "ssl.ca.location", "ssl.certificate.location", "ssl.key.location":
		tlsFiles[key], err = cast.ToStringE(value)
	case "session.timeout.ms":
		cfg.Consumer.Group.Session.Timeout, err = milliseconds(value)
	case "heartbeat.interval.ms":
		cfg.Consumer.Group.Heartbeat.Interval, err = milliseconds(value)
	case "request.required.acks":
		var acks int16
		acks, err = cast.ToInt16E(value)
		cfg.Producer.RequiredAcks = sarama.RequiredAcks(acks)
	case "request.timeout.ms":
		cfg.Producer.Timeout, err = milliseconds(value)
	case "compression.codec":
		var codec string
		codec, err = cast.ToStringE(value)
		switch codec {
		case "none":
			cfg.Producer.Compression = sarama.CompressionNone
		case "gzip":
			cfg.Producer.Compression = sarama.CompressionGZIP
		case "snappy":
			cfg.Producer.Compression = sarama.CompressionSnappy
		case "lz4":
			cfg.Producer.Compression = sarama.CompressionLZ4
		case "inherit":
		default:
			err = errors.Errorf("unknown compression codec %q", codec)
		}
	case "auto.offset.reset":
		var reset string
		reset, err = cast.ToStringE(value)
		switch reset {
		case "smallest", "earliest":
			cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
		case "largest", "latest":
			cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
		default:
			return false, nil
		}
	case "auto.commit.enable":
		extra.autoCommit, err = cast.ToBoolE(value)
	case "auto.commit.interval.ms":
		cfg.Consumer.Offsets.CommitInterval, err = milliseconds(value)
	default:
		return false, nil
	}
	return true, err
}

func buildTLSConfig(files map[string]string) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if ca := files["ssl.ca.location"]; ca != "" {
		pem, err := ioutil.ReadFile(ca)
		if err != nil {
			return nil, errors.Wrap(err, "read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificate found in %s", ca)
		}
		tc.RootCAs = pool
	}

	cert, key := files["ssl.certificate.location"], files["ssl.key.location"]
	if cert != "" && key != "" {
		pair, err := tls.LoadX509KeyPair(cert, key)
		if err != nil {
			return nil, errors.Wrap(err, "load client certificate")
		}
		tc.Certificates = []tls.Certificate{pair}
	}

	return tc, nil
}

// explicitPartitioner honours a partition set on the message and falls
// back to key hashing for PartitionUnassigned.
type explicitPartitioner struct {
	hash sarama.Partitioner
}

func newExplicitPartitioner(topic string) sarama.Partitioner {
	return &explicitPartitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (p *explicitPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if msg.Partition < 0 {
		return p.hash.Partition(msg, numPartitions)
	}
	if msg.Partition >= numPartitions {
		return -1, sarama.ErrInvalidPartition
	}
	return msg.Partition, nil
}

func (p *explicitPartitioner) RequiresConsistency() bool {
	return true
}

type producer struct {
	client   sarama.Client
	producer sarama.AsyncProducer
	topic    string
	done     chan none
}

func newProducer(client sarama.Client, p sarama.AsyncProducer, topic string, logger KeyValueLogger, registry metrics.Registry) *producer {
	deliveryErrors := metrics.GetOrRegisterCounter("producer."+topic+".delivery_errors", registry)
	prd := &producer{
		client:   client,
		producer: p,
		topic:    topic,
		done:     make(chan none),
	}

	// Delivery reports, the channel is closed once the producer shut down.
	go func() {
		defer close(prd.done)
		for perr := range p.Errors() {
			deliveryErrors.Inc(1)
			logger.Log("topic", topic, "partition", perr.Msg.Partition, "msg", "Delivery failed", "err", perr.Err)
		}
	}()

	return prd
}

func (p *producer) Produce(partition int32, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Partition: partition,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	p.producer.Input() <- msg
	return nil
}

func (p *producer) Close() error {
	p.producer.AsyncClose()
	<-p.done
	return p.client.Close()
}

// partitionConsumer tracks the next offset to deliver. hwm is the high
// water mark seen at start, sarama only reports one after its first fetch.
type partitionConsumer struct {
	pc    sarama.PartitionConsumer
	pom   sarama.PartitionOffsetManager
	next  int64
	hwm   int64
	atEOF bool
}

type consumer struct {
	client     sarama.Client
	consumer   sarama.Consumer
	offsets    sarama.OffsetManager
	topic      string
	groupID    string
	autoCommit bool
	logger     KeyValueLogger

	mu         sync.Mutex
	partitions map[int32]*partitionConsumer
}

func (c *consumer) offsetManager() (sarama.OffsetManager, error) {
	if c.offsets == nil {
		om, err := sarama.NewOffsetManagerFromClient(c.groupID, c.client)
		if err != nil {
			return nil, errors.Wrapf(err, "could not manage offsets of group %s", c.groupID)
		}
		c.offsets = om
	}
	return c.offsets, nil
}

func (c *consumer) ConsumeStart(partition int32, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.partitions[partition]; ok {
		return errors.Wrapf(ErrAlreadyActive, "partition %d", partition)
	}

	var pom sarama.PartitionOffsetManager
	if offset == OffsetStored || c.autoCommit {
		om, err := c.offsetManager()
		if err != nil {
			return err
		}
		pom, err = om.ManagePartition(c.topic, partition)
		if err != nil {
			return errors.Wrapf(err, "could not manage offsets of partition %d", partition)
		}
	}

	if offset == OffsetStored {
		offset, _ = pom.NextOffset()
	}

	next, hwm, err := c.position(partition, offset)
	if err == nil {
		var pc sarama.PartitionConsumer
		pc, err = c.consumer.ConsumePartition(c.topic, partition, offset)
		if err == nil {
			c.partitions[partition] = &partitionConsumer{pc: pc, pom: pom, next: next, hwm: hwm}
			return nil
		}
	}

	if pom != nil {
		pom.Close()
	}
	return err
}

// position resolves the offset consumption starts from and the current end
// of the partition.
func (c *consumer) position(partition int32, offset int64) (next, hwm int64, err error) {
	hwm, err = c.client.GetOffset(c.topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "could not get the end of partition %d", partition)
	}

	switch offset {
	case sarama.OffsetNewest:
		return hwm, hwm, nil
	case sarama.OffsetOldest:
		next, err = c.client.GetOffset(c.topic, partition, sarama.OffsetOldest)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "could not get the beginning of partition %d", partition)
		}
		return next, hwm, nil
	}
	return offset, hwm, nil
}

func (c *consumer) Consume(ctx context.Context, partition int32, timeout time.Duration) (*Message, error) {
	c.mu.Lock()
	p, ok := c.partitions[partition]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotStarted, "partition %d", partition)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-p.pc.Messages():
		if !ok {
			return nil, errors.Errorf("partition %d consumer closed", partition)
		}
		p.next = msg.Offset + 1
		p.atEOF = false
		if c.autoCommit && p.pom != nil {
			p.pom.MarkOffset(p.next, "")
		}
		return &Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Payload:   msg.Value,
		}, nil

	case <-timer.C:
		hwm := p.pc.HighWaterMarkOffset()
		if hwm < p.hwm {
			hwm = p.hwm
		}
		if !p.atEOF && p.next >= hwm {
			p.atEOF = true
			return nil, ErrPartitionEOF
		}
		return nil, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *consumer) ConsumeStop(partition int32) error {
	c.mu.Lock()
	p, ok := c.partitions[partition]
	delete(c.partitions, partition)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return p.close()
}

func (p *partitionConsumer) close() error {
	err := p.pc.Close()
	if p.pom != nil {
		if perr := p.pom.Close(); err == nil {
			err = perr
		}
	}
	return err
}

func (c *consumer) Close() error {
	c.mu.Lock()
	partitions := c.partitions
	c.partitions = map[int32]*partitionConsumer{}
	c.mu.Unlock()

	var result error
	for partition, p := range partitions {
		if err := p.close(); err != nil {
			c.logger.Log("topic", c.topic, "partition", partition, "msg", "Close failed", "err", err)
			if result == nil {
				result = err
			}
		}
	}
	if c.offsets != nil {
		if err := c.offsets.Close(); err != nil && result == nil {
			result = err
		}
	}
	if err := c.consumer.Close(); err != nil && result == nil {
		result = err
	}
	if err := c.client.Close(); err != nil && result == nil {
		result = err
	}
	return result
}

type none struct{}
