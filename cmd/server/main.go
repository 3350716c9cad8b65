package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/clients/alphavantage"
	"github.com/wrenholt/papertrader/internal/clients/finnhub"
	"github.com/wrenholt/papertrader/internal/clients/fmp"
	"github.com/wrenholt/papertrader/internal/clients/objectstore"
	"github.com/wrenholt/papertrader/internal/clients/yahoo"
	"github.com/wrenholt/papertrader/internal/config"
	"github.com/wrenholt/papertrader/internal/database"
	"github.com/wrenholt/papertrader/internal/events"
	"github.com/wrenholt/papertrader/internal/modules/ledger"
	"github.com/wrenholt/papertrader/internal/modules/marketdata"
	"github.com/wrenholt/papertrader/internal/modules/orders"
	"github.com/wrenholt/papertrader/internal/modules/performance"
	"github.com/wrenholt/papertrader/internal/modules/stoploss"
	"github.com/wrenholt/papertrader/internal/reliability"
	"github.com/wrenholt/papertrader/internal/scheduler"
	"github.com/wrenholt/papertrader/internal/server"
	"github.com/wrenholt/papertrader/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Msg("Starting papertrader")

	// Initialize databases: the ledger holds account state, the cache
	// holds quotes and execution runs.
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CacheDBPath(),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	databases := []*database.DB{ledgerDB, cacheDB}

	// Initialize schemas
	if err := ledger.InitSchema(ledgerDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger schema")
	}
	if err := performance.InitSchema(ledgerDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize performance schema")
	}
	if err := marketdata.InitSchema(cacheDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize quote cache schema")
	}
	if err := orders.InitSchema(cacheDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize orders schema")
	}

	eventManager := events.NewManager(log)

	// Account ledger, seeded on first boot
	account := ledger.NewService(ledgerDB.Conn(), eventManager, log)
	if err := account.Seed(cfg.InitialCash); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed account")
	}

	// Quote sources, in configured fallback order
	sources := buildQuoteSources(cfg, log)

	var stream *finnhub.Stream
	if cfg.FinnhubStream && cfg.FinnhubAPIKey != "" {
		stream = finnhub.NewStream(cfg.FinnhubAPIKey, log)
		sources = append([]marketdata.Source{stream}, sources...)
	}

	if len(sources) == 0 {
		log.Fatal().Msg("No quote sources available, check QUOTE_SOURCES and API keys")
	}

	resolver := marketdata.NewResolver(sources, log)
	market := marketdata.NewService(
		marketdata.NewRepository(cacheDB.Conn(), log),
		resolver,
		account,
		cfg.QuoteTTL,
		eventManager,
		log,
	)

	if stream != nil {
		market.SetStream(stream)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("Finnhub stream not connected yet")
		}
		defer stream.Stop()
	}

	// Order sizing and execution
	runRepo := orders.NewRunRepository(cacheDB.Conn(), log)
	execution := orders.NewExecutionService(
		account,
		market,
		runRepo,
		eventManager,
		cfg.CashBuffer,
		cfg.ExecuteFreshQuotes,
		log,
	)

	// Stop-loss sweeps and performance tracking
	evaluator := stoploss.NewEvaluator(account, market, eventManager, log)

	snapshots := performance.NewSnapshotRepository(ledgerDB.Conn(), log)
	perf := performance.NewService(snapshots, account, market, cfg.BenchmarkTicker, eventManager, log)

	// Cloud backups, when a bucket is configured
	var cloudBackups *reliability.CloudBackupService
	if cfg.BackupEnabled() {
		store, err := objectstore.NewClient(
			context.Background(),
			cfg.BackupEndpoint,
			cfg.BackupRegion,
			cfg.BackupAccessKeyID,
			cfg.BackupSecretKey,
			cfg.BackupBucket,
			log,
		)
		if err != nil {
			log.Warn().Err(err).Msg("Object store client failed to initialize, cloud backups disabled")
		} else {
			local := reliability.NewBackupService(map[string]*database.DB{
				"ledger": ledgerDB,
				"cache":  cacheDB,
			}, log)
			cloudBackups = reliability.NewCloudBackupService(store, local, cfg.DataDir, eventManager, log)
		}
	}

	// Scheduler and background jobs
	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, log, evaluator, market, perf, databases, cloudBackups); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Log:         log,
		Quotes:      marketdata.NewHandler(market, log),
		Portfolio:   ledger.NewHandler(account, market, log),
		Performance: performance.NewHandler(perf, log),
		Orders:      orders.NewHandler(execution, log),
		System:      server.NewSystemHandlers(log, databases, sched, market),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// buildQuoteSources instantiates the configured quote clients in order.
// Sources whose API key is missing are skipped with a warning.
func buildQuoteSources(cfg *config.Config, log zerolog.Logger) []marketdata.Source {
	var sources []marketdata.Source

	for _, name := range cfg.QuoteSources {
		switch strings.ToLower(name) {
		case "finnhub":
			if cfg.FinnhubAPIKey == "" {
				log.Warn().Msg("FINNHUB_API_KEY not set, skipping finnhub source")
				continue
			}
			sources = append(sources, finnhub.NewClient(cfg.FinnhubAPIKey, cfg.HTTPClientTimeout, log))
		case "yahoo":
			sources = append(sources, yahoo.NewClient(cfg.HTTPClientTimeout, log))
		case "alphavantage":
			if cfg.AlphaVantageKey == "" {
				log.Warn().Msg("ALPHA_VANTAGE_API_KEY not set, skipping alphavantage source")
				continue
			}
			sources = append(sources, alphavantage.NewClient(cfg.AlphaVantageKey, cfg.HTTPClientTimeout, log))
		case "fmp":
			if cfg.FMPAPIKey == "" {
				log.Warn().Msg("FMP_API_KEY not set, skipping fmp source")
				continue
			}
			sources = append(sources, fmp.NewClient(cfg.FMPAPIKey, cfg.HTTPClientTimeout, log))
		default:
			log.Warn().Str("source", name).Msg("Unknown quote source, skipping")
		}
	}

	return sources
}

// registerJobs wires the background jobs onto the scheduler. The stop-loss
// sweep runs once per configured checkpoint; the backup job is only
// registered when a bucket is configured.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	log zerolog.Logger,
	evaluator *stoploss.Evaluator,
	market *marketdata.Service,
	perf *performance.Service,
	databases []*database.DB,
	cloudBackups *reliability.CloudBackupService,
) error {
	sweep := scheduler.NewStopLossSweepJob(log, evaluator)
	for _, schedule := range cfg.StopLossSchedule {
		if err := sched.AddJob(schedule, sweep); err != nil {
			return err
		}
	}

	// Hourly on weekdays, keeps held tickers fresh
	if err := sched.AddJob("0 0 * * * 1-5", scheduler.NewQuoteRefreshJob(log, market)); err != nil {
		return err
	}

	// 16:45 New York, after the US close
	if err := sched.AddJob("CRON_TZ=America/New_York 0 45 16 * * 1-5", scheduler.NewDailySnapshotJob(log, perf)); err != nil {
		return err
	}

	if err := sched.AddJob("0 30 3 * * *", scheduler.NewCacheMaintenanceJob(log, market, databases)); err != nil {
		return err
	}

	if cloudBackups != nil {
		if err := sched.AddJob("0 30 2 * * *", scheduler.NewCloudBackupJob(log, cloudBackups, cfg.BackupRetentionDays)); err != nil {
			return err
		}
	}

	return nil
}
