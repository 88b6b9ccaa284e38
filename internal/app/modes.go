package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/futuresbot/internal/admission"
	"github.com/alanyoungcy/futuresbot/internal/advisor"
	"github.com/alanyoungcy/futuresbot/internal/crypto"
	"github.com/alanyoungcy/futuresbot/internal/domain"
	"github.com/alanyoungcy/futuresbot/internal/executor"
	"github.com/alanyoungcy/futuresbot/internal/exitrule"
	"github.com/alanyoungcy/futuresbot/internal/feed"
	"github.com/alanyoungcy/futuresbot/internal/monitor"
	"github.com/alanyoungcy/futuresbot/internal/platform/binance"
	"github.com/alanyoungcy/futuresbot/internal/platform/paper"
	"github.com/alanyoungcy/futuresbot/internal/safety"
	"github.com/alanyoungcy/futuresbot/internal/server"
	"github.com/alanyoungcy/futuresbot/internal/server/handler"
	"github.com/alanyoungcy/futuresbot/internal/sizing"
)

// TradeMode runs the full engine: signal intake, admission, execution, and
// position monitoring. live selects the real venue gateway; otherwise the
// simulated one fills orders against the price feed.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, live bool) error {
	cfg := a.cfg
	mode := "paper"
	if live {
		mode = "live"
	}

	tickerFeed := feed.NewTickerWSFeed(
		cfg.Exchange.WsURL,
		cfg.Trading.Symbols,
		deps.PriceCache,
		30*time.Second,
		a.logger,
	)

	var (
		gateway         domain.ExchangeGateway
		prices          *feed.PriceFeed
		startingBalance float64
	)
	if live {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.Exchange.ApiSecret,
			EncryptedPath: cfg.Exchange.EncryptedSecretPath,
			Password:      cfg.Exchange.SecretPassword,
		})
		if err != nil {
			return fmt.Errorf("app: load exchange secret: %w", err)
		}
		gw := binance.New(binance.ClientConfig{
			APIKey:       cfg.Exchange.ApiKey,
			APISecret:    secret,
			BaseURL:      cfg.Exchange.BaseURL,
			Testnet:      cfg.Exchange.Testnet,
			CallTimeout:  cfg.Monitor.CallTimeout.Duration,
			MaxRetries:   cfg.Monitor.MaxRetries,
			RetryBackoff: cfg.Monitor.RetryBackoff.Duration,
		}, a.logger)

		for _, symbol := range cfg.Trading.Symbols {
			if err := gw.SetLeverage(ctx, symbol, cfg.Trading.Leverage); err != nil {
				return fmt.Errorf("app: set leverage %s: %w", symbol, err)
			}
		}
		balance, err := gw.GetBalance(ctx)
		if err != nil {
			return fmt.Errorf("app: fetch balance: %w", err)
		}
		gateway = gw
		prices = feed.NewPriceFeed(deps.PriceCache, gw, 10*time.Second)
		startingBalance = balance.Available
	} else {
		prices = feed.NewPriceFeed(deps.PriceCache, nil, 10*time.Second)
		gateway = paper.New(paper.Config{
			StartingBalance: cfg.Paper.StartingBalance,
			FeeRate:         cfg.Exchange.FeeRate,
			SlippageBps:     cfg.Paper.SlippageBps,
			PropagationLag:  cfg.Paper.PropagationLag.Duration,
		}, prices, a.logger)
		startingBalance = cfg.Paper.StartingBalance
	}

	registry := monitor.NewRegistry(
		startingBalance,
		cfg.Trading.MaxPositions,
		cfg.Trading.MaxPositionsPerSymbol,
	)

	supervisor := safety.New(safety.Config{
		MaxConsecutiveLosses: cfg.Safety.MaxConsecutiveLosses,
		WinRateWindow:        cfg.Safety.WinRateWindow,
		MinWinRate:           cfg.Safety.MinWinRate,
		AutoResumeAfter:      cfg.Safety.AutoResumeAfter.Duration,
	}, a.logger, func(cause string) {
		deps.Metrics.BreakerTrips.Inc()
		deps.Metrics.EnginePaused.Set(1)
		deps.Notifier.BreakerTripped(context.Background(), cause)
	})

	sizer := sizing.New(
		sizing.Mode(cfg.Trading.SizingMode),
		cfg.Trading.CapitalPerPosition,
		cfg.Trading.Leverage,
		gateway,
		prices,
	)

	requiredMargin := cfg.Trading.CapitalPerPosition
	if sizing.Mode(cfg.Trading.SizingMode) == sizing.ModeNotional {
		requiredMargin = cfg.Trading.CapitalPerPosition / float64(cfg.Trading.Leverage)
	}

	var advisorClient admission.AdvisorClient
	if cfg.Advisor.Enabled {
		advisorClient = advisor.New(cfg.Advisor.URL, cfg.Advisor.Timeout.Duration, a.logger)
	}

	pipeline := admission.New(admission.Config{
		MinConfidence:     cfg.Trading.MinConfidence,
		MaxSignalAge:      cfg.Trading.MaxSignalAge.Duration,
		MaxPriceDrift:     cfg.Trading.MaxPriceDrift,
		CooldownWindow:    cfg.Trading.CooldownWindow.Duration,
		CooldownOverride:  cfg.Trading.CooldownOverride,
		PoorWinRate:       cfg.Trading.PoorWinRate,
		ConfidencePenalty: cfg.Trading.ConfidencePenalty,
		WinRateLookback:   cfg.Trading.WinRateLookback.Duration,
		RequiredMargin:    requiredMargin,
	}, prices, registry, deps.CooldownCache, deps.PositionStore,
		advisorClient, supervisor, deps.AdmissionStore, deps.Metrics, a.logger)

	signalFeed := feed.NewSignalFeed(deps.EventBus, cfg.Redis.SignalStream, 64, a.logger)

	exec := executor.New(executor.Config{
		Mode:              mode,
		AdmissionInterval: cfg.Monitor.AdmissionInterval.Duration,
		Thresholds: executor.Thresholds{
			TakeProfitUSD:    cfg.Trading.TakeProfitUSD,
			FloorActivateUSD: cfg.Trading.FloorActivateUSD,
			FloorLockUSD:     cfg.Trading.FloorLockUSD,
			StopLossUSD:      cfg.Trading.StopLossUSD,
			MinGapFraction:   cfg.Trading.MinGapFraction,
			FeeRate:          cfg.Exchange.FeeRate,
		},
	}, signalFeed.Signals(), pipeline, sizer, gateway, prices, registry,
		deps.Notifier, deps.Metrics, a.logger)

	mon := monitor.New(monitor.Config{
		Mode:           mode,
		TickInterval:   cfg.Monitor.TickInterval.Duration,
		GracePeriod:    cfg.Monitor.GracePeriod.Duration,
		CallTimeout:    cfg.Monitor.CallTimeout.Duration,
		CooldownWindow: cfg.Trading.CooldownWindow.Duration,
		FeeRate:        cfg.Exchange.FeeRate,
	}, registry, gateway, prices, exitrule.NewEngine(cfg.Exchange.FeeRate),
		deps.PositionStore, deps.CooldownCache, supervisor,
		deps.Notifier, deps.EventBus, deps.Metrics, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tickerFeed.Run(ctx) })
	g.Go(func() error { return signalFeed.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })
	g.Go(func() error { return mon.Run(ctx) })

	if cfg.Server.Enabled {
		a.startServer(ctx, g, server.Handlers{
			Health:    handler.NewHealthHandler(mode),
			Stats:     handler.NewStatsHandler(pipeline.Stats(), supervisor),
			Positions: handler.NewPositionsHandler(registry, deps.PositionStore),
			Config:    handler.NewConfigHandler(cfg),
		})
	}
	if deps.Archiver != nil && cfg.S3.RetentionDays > 0 {
		g.Go(func() error { return a.runArchiver(ctx, deps) })
	}

	return g.Wait()
}

// MonitorMode serves the telemetry API over the historical stores without
// trading. The ticker feed still runs so cached prices stay fresh for
// dashboards reading the price cache.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	tickerFeed := feed.NewTickerWSFeed(
		cfg.Exchange.WsURL,
		cfg.Trading.Symbols,
		deps.PriceCache,
		30*time.Second,
		a.logger,
	)

	// An empty registry: the positions endpoint reports no live exposure,
	// only the closed history from the store.
	registry := monitor.NewRegistry(0, cfg.Trading.MaxPositions, cfg.Trading.MaxPositionsPerSymbol)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tickerFeed.Run(ctx) })

	a.startServer(ctx, g, server.Handlers{
		Health:    handler.NewHealthHandler("monitor"),
		Stats:     handler.NewStatsHandler(admission.NewStats(), nil),
		Positions: handler.NewPositionsHandler(registry, deps.PositionStore),
		Config:    handler.NewConfigHandler(cfg),
	})
	if deps.Archiver != nil && cfg.S3.RetentionDays > 0 {
		g.Go(func() error { return a.runArchiver(ctx, deps) })
	}

	return g.Wait()
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runArchiver sweeps aged rows to object storage once a day.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("component", "archiver"))
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -a.cfg.S3.RetentionDays)
		if n, err := deps.Archiver.ArchivePositions(ctx, cutoff); err != nil {
			logger.Error("position archive sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("archived positions", slog.Int64("count", n))
		}
		if n, err := deps.Archiver.ArchiveAdmissions(ctx, cutoff); err != nil {
			logger.Error("admission archive sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("archived admissions", slog.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
