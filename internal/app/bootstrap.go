package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stealth_twap/internal/adaptive"
	"stealth_twap/internal/analytics"
	"stealth_twap/internal/clock"
	"stealth_twap/internal/domain"
	"stealth_twap/internal/engine"
	"stealth_twap/internal/event"
	"stealth_twap/internal/infra"
	"stealth_twap/internal/infra/feed"
	"stealth_twap/internal/infra/storage"
	"stealth_twap/internal/orders"
	"stealth_twap/internal/privacy"
	"stealth_twap/internal/service"
	"stealth_twap/internal/venue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Registry *prometheus.Registry
	Metrics  *infra.Metrics
	Journal  *storage.Journal
	Feed     *feed.Worker
	Tracker  *analytics.Tracker
	Service  *service.TWAPService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and wires every component.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping Stealth TWAP...", slog.String("venue", cfg.Venue.Mode))

	// 3. Journal
	journal, err := storage.NewJournal(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Journal = journal
	lastID, err := journal.LastEventID(context.Background())
	if err != nil {
		journal.Close()
		return err
	}
	slog.Info("✅ Journal opened", slog.String("path", cfg.Storage.Path), slog.Uint64("last_event", lastID))

	// 4. Metrics
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.Metrics = infra.NewMetrics(b.Registry)

	sysClock := clock.System{}

	// 5. Market data
	sampler := analytics.NewSampler(cfg.Analytics.VolatilityWindow)
	b.Feed = feed.NewWorker(feedConfig(cfg), sysClock, sampler, b.Metrics)

	// 6. Venue
	v, margin, err := b.newVenue()
	if err != nil {
		journal.Close()
		return err
	}

	// 7. Engine
	store := orders.NewStore(cfg.OrderLimits(), sysClock)
	gate := privacy.NewGate(cfg.PrivacyConfig(), sysClock, privacy.NewObservableEntropy(sysClock))
	controller := adaptive.NewController(cfg.AdaptiveConfig())

	b.Tracker = analytics.NewTracker(cfg.AnalyticsConfig(), sysClock)
	b.Tracker.OnAlert(func(a analytics.Alert) {
		b.Metrics.Alert(a.Kind.String())
	})

	bus := event.NewBus(
		event.LogSink(slog.Default().With("module", "events")),
		journal,
		event.SinkFunc(b.archiveReport),
	)

	coordinator := engine.NewCoordinator(cfg.EngineConfig(), engine.Deps{
		Store:      store,
		Gate:       gate,
		Adaptive:   controller,
		Tracker:    b.Tracker,
		Oracle:     b.Feed,
		Margin:     margin,
		Venue:      v,
		Conditions: sampler,
		Events:     bus,
		Metrics:    b.Metrics,
		Clock:      sysClock,
	})

	b.Service = service.NewTWAPService(service.Deps{
		Store:       store,
		Coordinator: coordinator,
		Gate:        gate,
		Tracker:     b.Tracker,
		Adaptive:    controller,
		Conditions:  sampler,
		Events:      bus,
		Archive:     journal,
		Venue:       v,
		Clock:       sysClock,
	}, cfg.Engine.BatchConcurrency)

	slog.Info("✅ Engine ready")
	return nil
}

func feedConfig(cfg *infra.Config) feed.Config {
	return feed.Config{
		URL:        cfg.Feed.WSURL,
		Assets:     cfg.Feed.Assets,
		StaleAfter: cfg.Feed.StaleAfter,
		Backoff:    infra.DefaultBackoff,
	}
}

func (b *Bootstrap) newVenue() (domain.Venue, domain.Margin, error) {
	switch b.Config.Venue.Mode {
	case infra.VenueModePaper:
		pv := venue.NewPaperVenue()
		pv.SetDefaultAccountValue(b.Config.Venue.PaperAccountValue)
		return pv, pv, nil
	case infra.VenueModeREST:
		rv := venue.NewRESTVenue(b.Config.RESTConfig())
		return rv, rv, nil
	default:
		return nil, nil, fmt.Errorf("unknown venue mode %q", b.Config.Venue.Mode)
	}
}

// archiveReport persists the tracker report of every completed order.
func (b *Bootstrap) archiveReport(ev event.Event) {
	done, ok := ev.(event.OrderCompleted)
	if !ok {
		return
	}
	rep, ok := b.Tracker.OrderReport(done.ID)
	if !ok {
		return
	}
	if err := b.Journal.SaveReport(context.Background(), rep); err != nil {
		slog.Error("Failed to archive report", slog.String("id", done.ID.Hex()), slog.Any("error", err))
	}
}

// Start connects the market data feed.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Feed.Connect(ctx); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	slog.InfoContext(ctx, "✅ Feed connected", slog.Int("assets", len(b.Config.Feed.Assets)))
	return nil
}

// Shutdown stops the feed and closes the journal.
func (b *Bootstrap) Shutdown() error {
	if b.Feed != nil {
		b.Feed.Disconnect()
	}
	var errs []error
	if b.Journal != nil {
		errs = append(errs, b.Journal.Close())
	}
	return errors.Join(errs...)
}
