package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tanlooting/theta-engine/internal/alert"
	"github.com/tanlooting/theta-engine/internal/broker"
	"github.com/tanlooting/theta-engine/internal/config"
	"github.com/tanlooting/theta-engine/internal/logging"
	"github.com/tanlooting/theta-engine/internal/schedule"
	"github.com/tanlooting/theta-engine/internal/storage"
	"github.com/tanlooting/theta-engine/internal/strategy"
)

const strategyName = "ninety-dte"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env carries telegram credentials and anything the yaml expands
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Environment.LogLevel,
		Console:    true,
		FilePath:   cfg.Environment.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 7,
		MaxAgeDays: 30,
	})

	alerts := buildAlerts(cfg, logger)
	logger.Info().Str("mode", cfg.Environment.Mode).Msg("starting theta-engine")
	if !cfg.IsPaperTrading() {
		logger.Warn().Msg("live trading mode, waiting 10 seconds to confirm")
		time.Sleep(10 * time.Second)
	}

	if err := run(cfg, logger, alerts); err != nil {
		fatalf(logger, alerts, "bot error: %v", err)
	}
	logger.Info().Msg("bot stopped")
}

func run(cfg *config.Config, logger zerolog.Logger, alerts *alert.Dispatcher) error {
	store, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	var transport broker.Transport = broker.NewStream(cfg.Broker.GatewayURL, logger)
	if cfg.Broker.CircuitBreaker {
		transport = broker.NewBreakerTransport(transport, logger)
	}
	session := broker.NewSession(transport, logger, broker.DefaultSessionConfig)

	runner := strategy.NewRunner(session, alerts, store, logger, strategy.Params{
		Name:                 strategyName,
		Symbol:               cfg.Strategy.Symbol,
		Exchange:             cfg.Strategy.Exchange,
		TradingClass:         cfg.Strategy.TradingClass,
		Multiplier:           cfg.Strategy.Multiplier,
		DailyPremium:         cfg.Strategy.DailyPremium,
		HedgeRatio:           cfg.Strategy.HedgeRatio,
		ShortDeltaTarget:     cfg.Strategy.ShortDeltaTarget,
		ShortDeltaTolerance:  cfg.Strategy.ShortDeltaTolerance,
		HedgeCreditTarget:    cfg.Strategy.HedgeCreditTarget,
		HedgeCreditTolerance: cfg.Strategy.HedgeCreditTolerance,
		ShortDTE:             cfg.Strategy.ShortDTE,
		HedgeDTE:             cfg.Strategy.HedgeDTE,
		StopLossPct:          cfg.Strategy.StopLossPct,
		TakeProfitPct:        cfg.Strategy.TakeProfitPct,
		SlippageAdj:          cfg.Strategy.SlippageAdj,
		Tick:                 cfg.Strategy.Tick,
	})
	session.SetHooks(runner.HandleFill, runner.HandleCancel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	defer session.Close()

	// resolve the underlying up front so a bad symbol fails the start,
	// not the first run
	underlying := broker.Contract{
		SecType:  broker.SecStock,
		Symbol:   cfg.Strategy.Symbol,
		Exchange: cfg.Strategy.Exchange,
		Currency: "USD",
	}
	if qualified, err := session.Qualify(ctx, underlying); err != nil || len(qualified) != 1 {
		return fmt.Errorf("qualifying underlying %s: %v", cfg.Strategy.Symbol, err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	scheduler, err := schedule.New(loc, cfg.Schedule.RunAt, cfg.Schedule.ExitAt, logger)
	if err != nil {
		return err
	}

	alerts.Info(fmt.Sprintf("%s: starting, run at %s, exit at %s (%s)",
		strategyName, cfg.Schedule.RunAt, cfg.Schedule.ExitAt, loc))

	err = scheduler.Run(ctx, func(runCtx context.Context) {
		if runErr := runner.Run(runCtx); runErr != nil {
			logger.Error().Err(runErr).Msg("strategy run failed")
			alerts.Error(fmt.Sprintf("%s: run failed: %v", strategyName, runErr))
		}
	})
	switch {
	case errors.Is(err, schedule.ErrHardExit):
		alerts.Info(fmt.Sprintf("%s: program exited at market close", strategyName))
		return nil
	case errors.Is(err, context.Canceled):
		alerts.Info(fmt.Sprintf("%s: shut down by operator", strategyName))
		return nil
	default:
		return err
	}
}

func buildAlerts(cfg *config.Config, logger zerolog.Logger) *alert.Dispatcher {
	sinks := []alert.Sink{alert.NewLogSink(logger)}
	if cfg.Alerts.Telegram {
		tg, err := alert.NewTelegramSink()
		if err != nil {
			logger.Warn().Err(err).Msg("telegram alerts disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	return alert.NewDispatcher(logger, sinks...)
}

// fatalf alerts before dying so the operator hears about the failure even
// when nobody is watching the logs.
func fatalf(logger zerolog.Logger, alerts *alert.Dispatcher, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	alerts.Error(msg)
	logger.Error().Msg(msg)
	os.Exit(1)
}
