package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	kafka "github.com/tikivn/kafka-topic"
	"github.com/tikivn/kafka-topic/json"
)

// handlers lists the message handlers selectable with --handler.
func handlers(w io.Writer) map[string]kafka.MessageHandler {
	return map[string]kafka.MessageHandler{
		"text": kafka.HandlerFunc(func(topic string, partition int32, offset int64, key, payload []byte) error {
			_, err := fmt.Fprintf(w, "Received payload: %q\n", payload)
			return err
		}),
		"json": kafka.NewWriterHandler(w, json.NewEncoder()),
	}
}

func handlerNames(hs map[string]kafka.MessageHandler) string {
	names := make([]string, 0, len(hs))
	for name := range hs {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func newConsumeCommand(a *app) *cobra.Command {
	var (
		consumer  string
		handler   string
		partition string
		offset    string
		timeout   string
		stopAtEOF bool
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume a partition with a configured consumer until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hs := handlers(cmd.OutOrStdout())
			messageHandler, ok := hs[handler]
			if !ok {
				return errors.Wrapf(kafka.ErrNotFound, "Message Handler with name '%s' is not defined (available: %s)", handler, handlerNames(hs))
			}

			p, err := parsePartition(partition)
			if err != nil {
				return err
			}
			o, err := parseOffset(offset)
			if err != nil {
				return err
			}
			t, err := parseTimeout(timeout)
			if err != nil {
				return err
			}

			var opts []kafka.Option
			if stopAtEOF {
				opts = append(opts, kafka.WithStopAtEOF())
			}
			m, err := a.manager(opts...)
			if err != nil {
				return err
			}
			topicConsumer, ok := m.Consumer(consumer)
			if !ok {
				return errors.Wrapf(kafka.ErrNotFound, "TopicConsumer with name '%s' is not defined", consumer)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := topicConsumer.ConsumeStart(o, p); err != nil {
				return err
			}
			level.Info(a.logger).Log("msg", "Consuming", "consumer", consumer, "topic", topicConsumer.Topic(), "partition", p, "offset", o)

			err = topicConsumer.Consume(ctx, messageHandler, p, time.Duration(t)*time.Millisecond)
			if serr := topicConsumer.ConsumeStop(p); serr != nil && err == nil {
				err = serr
			}
			if errors.Is(err, context.Canceled) {
				level.Info(a.logger).Log("msg", "Interrupted, consumer stopped", "consumer", consumer)
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&consumer, "consumer", "", "name of the configured consumer")
	flags.StringVar(&handler, "handler", "text", "message handler, text or json")
	flags.StringVarP(&partition, "partition", "p", "0", "partition to consume")
	flags.StringVarP(&offset, "offset", "o", "beginning", "start offset: a number, beginning, end or stored")
	flags.StringVarP(&timeout, "timeout", "t", "1000", "poll timeout in ms")
	flags.BoolVar(&stopAtEOF, "stop-at-eof", false, "exit once the end of the partition is reached")
	cmd.MarkFlagRequired("consumer")

	return cmd
}
