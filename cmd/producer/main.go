// Command producer serves the HTTP ingestion API: submit URLs for metadata
// collection and read back stored results.
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
	"github.com/arborwatch/httpmeta/ingest"
	"github.com/arborwatch/httpmeta/log"
	netHTTP "github.com/arborwatch/httpmeta/net/http"
	mw "github.com/arborwatch/httpmeta/net/middleware"
	"github.com/arborwatch/httpmeta/net/middleware/recovery"
	"github.com/arborwatch/httpmeta/observability"
	"github.com/arborwatch/httpmeta/repository"
)

func main() {
	root := &cobra.Command{
		Use:   "producer",
		Short: "Serve the metadata ingestion HTTP API",
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

	pub, err := newPublisher(cfg, ll)
	if err != nil {
		ll.WithFields(log.Fields{"error": err.Error()}).Fatal("broker_connect_failed")
		return err
	}

	metrics, err := observability.NewOperator(nil)
	if err != nil {
		return err
	}

	api := ingest.New(pub, repo, ll)
	handler := mw.Logging(ll, nil)(mw.Headers(map[string]string{"X-Content-Type-Options": "nosniff"})(recovery.Handler()(api.Routes())))

	srv, err := netHTTP.NewServer(netHTTP.WithPort(httpPort(cfg.HTTPAddr)), netHTTP.WithHandler(handler))
	if err != nil {
		return err
	}

	metricsMux := httpMux(cfg.MetricsAddr, metrics)
	go func() { _ = metricsMux.ListenAndServe() }()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		ll.Info("producer_shutdown")
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutCancel()
	_ = srv.Stop(true)
	_ = pub.Close(shutCtx)
	return repo.Close(shutCtx)
}

func newPublisher(cfg *config.Config, ll log.Logger) (broker.Publisher, error) {
	if cfg.PublisherBackend == "inmemory" {
		return broker.NewInMemory(cfg.QueueMaxLength), nil
	}
	return broker.NewPublisher(broker.Config{
		URL: cfg.BrokerURL,
		Queue: broker.Queue{
			Name:         cfg.BrokerQueue,
			Durable:      true,
			MaxLength:    int64(cfg.QueueMaxLength),
			OverflowMode: broker.OverflowRejectPublish,
		},
		InitialBackoff:     cfg.InitialBackoff,
		MaxBackoff:         cfg.MaxBackoff,
		MaxConnectAttempts: cfg.MaxConnectionAttempts,
		ConfirmTimeout:     cfg.PublishConfirmTimeout,
	}, ll)
}
