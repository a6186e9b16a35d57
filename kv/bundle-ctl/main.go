package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/transaction"
	"github.com/pingcap-incubator/tinybundle/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	storeName   string
	dbPath      string
	metricsAddr string
)

var gitHash = "None"

// env is what every subcommand runs against.
type env struct {
	conf   *config.Config
	logger *zap.Logger
	store  storage.Storage
	coord  *transaction.Coordinator
}

func setup() (*env, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := log.New(log.Config{
		Level:      conf.LogLevel,
		Format:     conf.LogFormat,
		Output:     conf.LogOutput,
		MaxSize:    conf.LogMaxSize,
		MaxBackups: conf.LogMaxBackups,
		MaxDays:    conf.LogMaxDays,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("starting bundle-ctl", zap.String("gitHash", gitHash), zap.String("store", conf.Store))

	store, err := newStorage(conf, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Start(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if metricsAddr != "" {
		mux := http.DefaultServeMux
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	coord := transaction.NewCoordinator(store, conf,
		transaction.WithLogger(logger.Named("coordinator")),
		transaction.WithRegisterer(reg))
	return &env{conf: conf, logger: logger, store: store, coord: coord}, nil
}

func (e *env) close() {
	if err := e.store.Stop(); err != nil {
		e.logger.Error("failed to stop storage", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		conf = loaded
	}
	if storeName != "" {
		conf.Store = storeName
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	return conf, conf.Validate()
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bundle-ctl",
		Short:         "Apply transactional bundles of document operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&storeName, "store", "", "storage backend: memory, badger or dynamodb")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "badger data directory")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics and pprof on this address")

	rootCmd.AddCommand(
		newApplyCommand(),
		newGetCommand(),
		newReleaseCommand(),
	)
	return rootCmd
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Fprintf(os.Stderr, "\nGot signal [%v] to exit.\n", sig)
		cancel()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
