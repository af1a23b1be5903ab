package main

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	kafka "github.com/tikivn/kafka-topic"
)

func newProduceCommand(a *app) *cobra.Command {
	var (
		producer  string
		partition string
		key       string
	)

	cmd := &cobra.Command{
		Use:   "produce <message>",
		Short: "Send a single message with a configured producer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := kafka.PartitionUnassigned
			if cmd.Flags().Changed("partition") {
				n, err := parsePartition(partition)
				if err != nil {
					return err
				}
				p = n
			}

			var k []byte
			if cmd.Flags().Changed("key") {
				k = []byte(key)
			}

			m, err := a.manager()
			if err != nil {
				return err
			}
			topicProducer, ok := m.Producer(producer)
			if !ok {
				return errors.Wrapf(kafka.ErrNotFound, "TopicProducer with name '%s' is not defined", producer)
			}

			if err := produceOnce(a.logger, topicProducer, []byte(args[0]), p, k); err != nil {
				return err
			}

			level.Info(a.logger).Log("msg", "Message produced", "producer", producer, "topic", topicProducer.Topic())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&producer, "producer", "", "name of the configured producer")
	flags.StringVarP(&partition, "partition", "p", "", "target partition (default: chosen by the partitioner)")
	flags.StringVarP(&key, "key", "k", "", "message key")
	cmd.MarkFlagRequired("producer")

	return cmd
}

// produceOnce sends a single message within its own start/stop cycle.
func produceOnce(logger log.Logger, p *kafka.TopicProducer, payload []byte, partition int32, key []byte) error {
	if err := p.ProduceStart(); err != nil {
		return err
	}
	if err := p.Produce(payload, partition, key); err != nil {
		if serr := p.ProduceStop(); serr != nil {
			level.Warn(logger).Log("msg", "Producer did not stop cleanly", "topic", p.Topic(), "err", serr)
		}
		return err
	}
	return p.ProduceStop()
}
