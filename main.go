package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"
	"time"

	"aiInvestSim/config"
	"aiInvestSim/internal/adapters/aisource"
	"aiInvestSim/internal/adapters/binanceclient"
	"aiInvestSim/internal/adapters/logger"
	"aiInvestSim/internal/adapters/notify"
	"aiInvestSim/internal/adapters/sqlite"
	"aiInvestSim/internal/app"
	"aiInvestSim/internal/engine"
	"aiInvestSim/internal/pipeline"
	"aiInvestSim/internal/risk"
	"aiInvestSim/internal/sessions"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Market Data Client (Binance Adapter)
	marketClient, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceSecretKey,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Decision Source (AI Adapter)
	decider, err := aisource.New(aisource.Config{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		Logger:  appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize decision source")
		log.Fatalf("FATAL: Failed to initialize decision source: %v", err)
	}

	notifier, err := notify.NewLogNotifier(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize notifier: %v", err)
	}

	// 6. Assemble the Simulation Core
	registry := sessions.NewRegistry()
	validator := pipeline.New(pipeline.Policy{
		MaxLeverage:           cfg.MaxLeverage,
		MaintenanceMarginRate: cfg.MaintenanceMarginRate,
		CashReservePct:        cfg.CashReservePct,
		MarginUsageCap:        cfg.MarginUsageCap,
	})
	eng, err := engine.New(validator, appLogger, cfg.MaintenanceMarginRate)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize execution engine")
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}

	service, err := app.NewService(app.Config{
		DecisionTimeout: cfg.DecisionTimeout,
		PriceTimeout:    cfg.PriceTimeout,
	}, appLogger, registry, eng, marketClient, decider, notifier, repo, repo)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize simulation service")
		log.Fatalf("FATAL: Failed to initialize simulation service: %v", err)
	}

	monitor, err := risk.NewMonitor(risk.Config{
		Registry:              registry,
		Engine:                eng,
		Market:                marketClient,
		Notifier:              notifier,
		Logger:                appLogger,
		SessionRepo:           repo,
		HistoryRepo:           repo,
		ScanInterval:          cfg.ScanInterval,
		MaintenanceMarginRate: cfg.MaintenanceMarginRate,
		PriceTimeout:          cfg.PriceTimeout,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk monitor")
		log.Fatalf("FATAL: Failed to initialize risk monitor: %v", err)
	}

	// 7. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acct, err := service.StartSession(ctx, cfg.InitialCapital)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start simulation session")
		log.Fatalf("FATAL: Failed to start simulation session: %v", err)
	}
	appLogger.Info(ctx, "Simulation session running", map[string]interface{}{
		"account": acct.ID, "initialCapital": cfg.InitialCapital.String(), "cycleInterval": cfg.CycleInterval.String(),
	})

	go monitor.Run(ctx)

	runCycles(ctx, service, acct.ID, cfg.CycleInterval, appLogger)

	// 8. Settle on shutdown. The run context is gone, so give settlement its
	// own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	report, err := service.FinishSession(shutdownCtx, acct.ID)
	if err != nil {
		appLogger.Error(shutdownCtx, err, "Failed to settle session on shutdown", map[string]interface{}{"account": acct.ID})
		return
	}
	appLogger.Info(shutdownCtx, "Session settled", map[string]interface{}{
		"account":     acct.ID,
		"finalEquity": report.FinalEquity.String(),
		"return":      report.ProfitLoss.String(),
		"wins":        report.Wins,
		"losses":      report.Losses,
	})
}

// runCycles drives decision cycles on the configured interval until the
// context is cancelled. The first cycle runs immediately.
func runCycles(ctx context.Context, service *app.Service, accountID string, interval time.Duration, appLogger *logger.StdLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOne := func() {
		result, err := service.RunDecisionCycle(ctx, accountID)
		if err != nil {
			appLogger.Error(ctx, err, "Decision cycle failed", map[string]interface{}{"account": accountID})
			return
		}
		appLogger.Info(ctx, "Decision cycle completed", map[string]interface{}{
			"account":  accountID,
			"applied":  result.Applied(),
			"rejected": len(result.Outcomes) - result.Applied(),
			"equity":   result.Equity.String(),
		})
	}

	runOne()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOne()
		}
	}
}
