package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/params"
	"github.com/uhyunpark/minimarket/pkg/api"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
	"github.com/uhyunpark/minimarket/pkg/app/exchange"
	"github.com/uhyunpark/minimarket/pkg/events"
	"github.com/uhyunpark/minimarket/pkg/metrics"
	"github.com/uhyunpark/minimarket/pkg/storage"
)

const eventQueueSize = 1024

var feed bool

func init() {
	serveCmd.Flags().BoolVar(&feed, "feed", false, "place random limit orders on FEED_INTERVAL_MS")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger.Sugar())
	},
}

func serve(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	sugar.Infow("config_loaded",
		"store", cfg.Storage.Backend,
		"api_addr", cfg.API.Addr,
		"total_shares", cfg.Market.TotalShares,
		"initial_price", cfg.Market.InitialPrice.String(),
		"participants", len(cfg.Seeds),
	)

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	app, err := exchange.New(ctx, cfg, store, exchange.WithLogger(sugar), exchange.WithMetrics(m))
	if err != nil {
		return err
	}

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Storage.JournalFile != "" {
		fj, err := storage.NewFileJournal(cfg.Storage.JournalFile)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		journal = fj
		sugar.Infow("journal_opened", "path", cfg.Storage.JournalFile)
	}
	defer journal.Close()
	app.OnTrade(func(t trade.Record) {
		if err := journal.Append(t); err != nil {
			sugar.Warnw("journal_append_failed", "seq", t.Seq, "err", err)
		}
	})

	pubs, err := publishers(ctx, cfg.Events, sugar)
	if err != nil {
		return err
	}
	var dispatcher *events.Dispatcher
	if len(pubs) > 0 {
		dispatcher = events.NewDispatcher(sugar, m, eventQueueSize, pubs...)
		// Close drains the queue, so delivery outlives the signal context.
		dispatcher.Start(context.WithoutCancel(ctx))
		app.OnTrade(dispatcher.Enqueue)
	}

	server := api.NewServer(app, sugar, m, cfg.API.CORSOrigins)

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	var wg sync.WaitGroup
	if feed {
		fcfg := exchange.DefaultFeederConfig()
		fcfg.Interval = cfg.Feed.Interval
		fcfg.Seed = cfg.Feed.Seed
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := exchange.NewFeeder(app, fcfg, sugar).Run(feedCtx); err != nil {
				sugar.Errorw("feeder_failed", "err", err)
			}
		}()
	}

	err = server.Start(ctx, cfg.API.Addr)

	// Producers stop before the dispatcher queue is closed.
	stopFeed()
	wg.Wait()
	if dispatcher != nil {
		if cerr := dispatcher.Close(); cerr != nil {
			sugar.Warnw("dispatcher_close_failed", "err", cerr)
		}
	}
	hash := app.StateHash()
	sugar.Infow("market_stopped", "state_hash", fmt.Sprintf("%x", hash[:8]))
	return err
}

// publishers connects to the configured event sinks.
func publishers(ctx context.Context, cfg params.Events, sugar *zap.SugaredLogger) ([]events.Publisher, error) {
	var pubs []events.Publisher
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(ctx, cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		sugar.Infow("publisher_enabled", "sink", p.Name(), "url", cfg.NATSURL, "subject", cfg.NATSSubject)
		pubs = append(pubs, p)
	}
	if len(cfg.KafkaBrokers) > 0 {
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		sugar.Infow("publisher_enabled", "sink", p.Name(), "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		pubs = append(pubs, p)
	}
	return pubs, nil
}
