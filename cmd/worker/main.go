// Command worker consumes the shared queue, fetches each URL's metadata,
// and persists the outcome.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborwatch/httpmeta/broker"
	"github.com/arborwatch/httpmeta/config"
	"github.com/arborwatch/httpmeta/consumer"
	"github.com/arborwatch/httpmeta/fetcher"
	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/processor"
	"github.com/arborwatch/httpmeta/repository"
)

func main() {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Consume the metadata queue and fetch each URL",
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ll := log.WithZero(log.ZeroOptions{})

	cfg, err := config.Load()
	if err != nil {
		ll.WithFields(log.Fields{"error": err.Error()}).Fatal("config_load_failed")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, err := repository.New(ctx, cfg.StoreURI, cfg.StoreDB)
	cancel()
	if err != nil {
		ll.WithFields(log.Fields{"error": err.Error()}).Fatal("store_connect_failed")
		return err
	}

	bc, err := broker.NewConsumer(broker.Config{
		URL: cfg.BrokerURL,
		Queue: broker.Queue{
			Name:         cfg.BrokerQueue,
			Durable:      true,
			MaxLength:    int64(cfg.QueueMaxLength),
			OverflowMode: broker.OverflowRejectPublish,
		},
	}, cfg.PrefetchCount, ll)
	if err != nil {
		ll.WithFields(log.Fields{"error": err.Error()}).Fatal("broker_connect_failed")
		return err
	}

	f, err := fetcher.New(cfg.FetchConnectTimeout, cfg.FetchReadTimeout)
	if err != nil {
		return err
	}

	proc := processor.New(repo, f, cfg.MaxRetries, cfg.MaxPageSourceLength, ll)
	loop := consumer.New(bc, proc, cfg.ShutdownGrace, ll)

	runCtx, runCancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		runCancel()
	}()

	runErr := loop.Run(runCtx)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutCancel()
	_ = bc.Close(shutCtx)
	_ = repo.Close(shutCtx)
	return runErr
}
