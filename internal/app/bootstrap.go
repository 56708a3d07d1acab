package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sourcegraph/conc"

	"trade_go/internal/autokeys"
	"trade_go/internal/domain"
	"trade_go/internal/engine"
	"trade_go/internal/execution"
	"trade_go/internal/infra"
	"trade_go/internal/infra/bans"
	"trade_go/internal/infra/bot"
	"trade_go/internal/infra/events"
	"trade_go/internal/infra/listings"
	"trade_go/internal/infra/pricefeed"
	"trade_go/internal/infra/storage"
	"trade_go/internal/inventory"
	"trade_go/internal/service"
	"trade_go/internal/strategy"
)

// watchdogInterval is how often the in-flight offer is checked against the confirmation timeout.
const watchdogInterval = 10 * time.Second

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics

	Prices     *service.PriceService
	History    *service.PurchaseHistory
	Inventory  *inventory.Manager
	Controller *autokeys.Controller
	Queue      *engine.OfferQueue
	Bot        *bot.Client
	Listings   *listings.Client
	Router     *events.Router

	nc         *nats.Conn
	subscriber *events.Subscriber
	feed       *pricefeed.Worker
	watchdog   *events.Watchdog
	pollers    []*infra.Poller
	metricsSrv *http.Server
	wg         conc.WaitGroup
	logger     *slog.Logger
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logging, DB).
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping trade bot...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	b.logger = slog.Default().With(slog.String("module", "app"))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	b.logger.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	b.Metrics = infra.NewMetrics()
	b.Wire()
	return nil
}

// Wire builds the offer pipeline. Nothing is started and no network is touched.
func (b *Bootstrap) Wire() {
	cfg := b.Config

	b.Prices = service.NewPriceService(b.Storage)
	b.History = service.NewPurchaseHistory(b.Storage, cfg.PurchaseHistoryMaxAge())
	b.Bot = bot.NewClient(cfg)
	b.Listings = listings.NewClient(cfg)

	reservations := inventory.NewReservations()
	b.Inventory = inventory.NewManager(b.Bot, b.Prices, reservations, cfg.Inventory.MaxStock)

	b.Controller = autokeys.NewController(autokeys.Config{
		Enabled: cfg.Autokeys.Enabled,
		MinKeys: cfg.Autokeys.MinKeys,
		MaxKeys: cfg.Autokeys.MaxKeys,
		MinRef:  domain.MetalToScrap(cfg.Autokeys.MinRef),
		MaxRef:  domain.MetalToScrap(cfg.Autokeys.MaxRef),
	}, b.Inventory, b.Prices, reservations, b.Listings, b.Metrics)
	b.Prices.OnKeyPrice(func(ctx context.Context) {
		if err := b.Controller.Recompute(ctx); err != nil {
			b.log().Warn("Rebalancing after key price change failed", slog.Any("error", err))
		}
	})

	evaluator := strategy.NewEngine(bans.NewChecker(cfg), b.Bot, b.Prices, b.Controller, b.History, b.Inventory)
	books := execution.NewBookkeeper(b.History, b.Controller, b.Listings, b.Inventory, b.Prices, b.Prices)
	handler := execution.NewHandler(b.Inventory, b.Prices, evaluator, b.Bot, books, b.Metrics)

	b.Queue = engine.NewOfferQueue(handler, reservations, b.Metrics)
	b.Router = events.NewRouter(cfg.SubjectPrefix(), b.Queue, b.Bot, books, b.Metrics)
	b.watchdog = events.NewWatchdog(b.Queue, cfg.ConfirmationTimeout(), watchdogInterval)

	b.pollers = []*infra.Poller{
		infra.NewPoller("autokeys", cfg.RecomputeInterval(), false, b.Controller.Recompute),
		infra.NewPoller("purchase-history", cfg.PruneInterval(), true, b.History.Prune),
	}
}

// Start brings up every background worker. Listings left over from a previous
// run are withdrawn before the controller publishes its own.
func (b *Bootstrap) Start(ctx context.Context) error {
	log := b.log()
	cfg := b.Config

	b.Prices.StartProcessor(ctx)

	if err := b.Listings.WithdrawAll(ctx); err != nil {
		log.Warn("Failed to withdraw stale listings", slog.Any("error", err))
	}
	if err := b.Controller.Recompute(ctx); err != nil {
		log.Warn("Initial rebalancing failed", slog.Any("error", err))
	}

	b.wg.Go(func() { b.Queue.Run(ctx) })
	log.Info("✅ Offer queue started")

	nc, err := events.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
	}
	b.nc = nc
	b.subscriber = events.NewSubscriber(nc, b.Router)
	if err := b.subscriber.Start(ctx); err != nil {
		return fmt.Errorf("subscribe lifecycle events: %w", err)
	}
	log.Info("✅ Lifecycle events subscribed", slog.String("prefix", cfg.SubjectPrefix()))

	if cfg.PriceFeed.WSURL != "" {
		b.feed = pricefeed.NewWorker(cfg.PriceFeed.WSURL, b.Prices.Updates(), b.Metrics)
		if err := b.feed.Connect(ctx); err != nil {
			log.Error("Failed to connect price feed", slog.Any("error", err))
		}
	}

	b.watchdog.Start(ctx)
	for _, p := range b.pollers {
		p.Start(ctx)
	}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", b.Metrics.Handler())
		b.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		b.wg.Go(func() {
			if err := b.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server failed", slog.Any("error", err))
			}
		})
		log.Info("✅ Metrics server started", slog.String("addr", addr))
	}

	return nil
}

// Shutdown stops workers in reverse start order. The context passed to Start
// must already be canceled so the queue loop can return.
func (b *Bootstrap) Shutdown() {
	log := b.log()

	if b.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.metricsSrv.Shutdown(ctx); err != nil {
			log.Warn("Metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}
	for _, p := range b.pollers {
		p.Stop()
	}
	if b.watchdog != nil {
		b.watchdog.Stop()
	}
	if b.feed != nil {
		b.feed.Disconnect()
	}
	if b.subscriber != nil {
		b.subscriber.Stop()
	}
	if b.nc != nil {
		b.nc.Close()
	}

	b.wg.Wait()

	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			log.Warn("Failed to close database", slog.Any("error", err))
		}
	}
	log.Info("👋 Shutdown complete")
}

func (b *Bootstrap) log() *slog.Logger {
	if b.logger == nil {
		b.logger = slog.Default().With(slog.String("module", "app"))
	}
	return b.logger
}
