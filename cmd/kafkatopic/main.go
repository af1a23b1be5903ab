package main

import (
	"fmt"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	kafka "github.com/tikivn/kafka-topic"
	"github.com/tikivn/kafka-topic/config"
	"github.com/tikivn/kafka-topic/confluent"
)

const envPrefix = "KAFKA_TOPIC"

// app holds what the commands share once the root command ran.
type app struct {
	cfgFile     string
	driver      string
	verbose     bool
	dumpMetrics bool

	logger   log.Logger
	registry metrics.Registry
	cfg      *config.Config
}

func main() {
	a := &app{}
	if err := newRootCommand(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "kafkatopic",
		Short:         "Produce to and consume from configured Kafka topics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.dumpMetrics && a.registry != nil {
				metrics.WriteOnce(a.registry, os.Stderr)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "kafka.yaml", "configuration file")
	flags.StringVar(&a.driver, "driver", "", "client driver, sarama or confluent (overrides the configuration)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log debug messages")
	flags.BoolVar(&a.dumpMetrics, "metrics", false, "print session metrics on exit")

	root.AddCommand(
		newProduceCommand(a),
		newConsumeCommand(a),
		newListCommand(a),
	)
	return root
}

func (a *app) init() error {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logrus.SetOutput(os.Stderr)
	if a.verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	a.logger = logger
	a.registry = metrics.NewRegistry()

	cfg, err := config.Load(a.cfgFile, envPrefix)
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.Driver = a.driver
	}
	a.cfg = cfg
	return nil
}

// manager builds the session registry from the loaded configuration.
func (a *app) manager(opts ...kafka.Option) (*kafka.Manager, error) {
	opts = append([]kafka.Option{
		kafka.WithLogger(level.Debug(a.logger)),
		kafka.WithRegistry(a.registry),
	}, opts...)

	switch a.cfg.Driver {
	case config.DriverConfluent:
		opts = append(opts, kafka.WithClient(confluent.NewClient(confluent.WithRegistry(a.registry))))
	case config.DriverSarama, "":
	default:
		return nil, errors.Wrapf(kafka.ErrConfig, "unknown driver %q", a.cfg.Driver)
	}

	m := kafka.NewManager(opts...)
	if err := a.cfg.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured producers and consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range m.ProducerNames() {
				p, _ := m.Producer(name)
				fmt.Fprintf(out, "producer\t%s\t%s\t%s\n", name, p.Topic(), p.Brokers())
			}
			for _, name := range m.ConsumerNames() {
				c, _ := m.Consumer(name)
				fmt.Fprintf(out, "consumer\t%s\t%s\t%s\n", name, c.Topic(), c.Brokers())
			}
			return nil
		},
	}
}
