// Package main is the entry point for the stockpilot trading server.
// Startup is staged: configuration, logging, databases, exchange
// clients, the risk/coordinator/pipeline core, background jobs, then
// the HTTP server. Shutdown unwinds in reverse on SIGINT/SIGTERM.
package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/cache"
	"github.com/daehwan-kim/stockpilot/internal/calendar"
	"github.com/daehwan-kim/stockpilot/internal/clients/kiwoom"
	"github.com/daehwan-kim/stockpilot/internal/clients/simulator"
	"github.com/daehwan-kim/stockpilot/internal/clients/upbit"
	"github.com/daehwan-kim/stockpilot/internal/config"
	"github.com/daehwan-kim/stockpilot/internal/coordinator"
	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/notify"
	"github.com/daehwan-kim/stockpilot/internal/pipeline"
	"github.com/daehwan-kim/stockpilot/internal/portfolio"
	"github.com/daehwan-kim/stockpilot/internal/ratelimit"
	"github.com/daehwan-kim/stockpilot/internal/reasoner"
	"github.com/daehwan-kim/stockpilot/internal/reliability"
	"github.com/daehwan-kim/stockpilot/internal/risk"
	"github.com/daehwan-kim/stockpilot/internal/server"
	"github.com/daehwan-kim/stockpilot/internal/store"
	"github.com/daehwan-kim/stockpilot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting stockpilot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Databases. The trade ledger gets the durable profile, everything
	// ephemeral the fast one.
	ledgerDB := mustOpenDB(log, database.Config{
		Path: filepath.Join(cfg.DataDir, "ledger.db"), Profile: database.ProfileLedger, Name: "ledger",
	})
	defer ledgerDB.Close()
	stateDB := mustOpenDB(log, database.Config{
		Path: filepath.Join(cfg.DataDir, "state.db"), Profile: database.ProfileStandard, Name: "state",
	})
	defer stateDB.Close()

	var cacheDB *database.DB
	if cfg.Cache.DiskPath != "" {
		cacheDB = mustOpenDB(log, database.Config{
			Path: cfg.Cache.DiskPath, Profile: database.ProfileCache, Name: "cache",
		})
		defer cacheDB.Close()
	}

	st := store.New(ledgerDB, stateDB)

	// Shared upstream budget and the tiered cache in front of it.
	limiter := ratelimit.New(ratelimit.Config{
		QueryPerSec: cfg.Rate.QueryPerSec,
		OrderPerSec: cfg.Rate.OrderPerSec,
		MinInterval: cfg.Rate.MinInterval,
	}, log)

	cacheCfg := cache.Config{
		L1MaxSize:  cfg.Cache.L1MaxSize,
		TTLs:       config.DefaultCacheTTLs,
		DefaultTTL: config.DefaultTTL,
		RedisAddr:  cfg.Cache.RedisAddr,
		RedisDB:    cfg.Cache.RedisDB,
	}
	if cacheDB != nil {
		cacheCfg.DiskDB = cacheDB.Conn()
	}
	tiered := cache.New(cacheCfg, log)
	defer tiered.Close()

	clients := buildClients(cfg, limiter, tiered, log)

	cal := calendar.New(calendar.Config{HolidayAPIURL: cfg.HolidayAPIURL}, st.Holidays, log)
	if err := cal.Refresh(ctx, time.Now().In(calendar.KST).Year()); err != nil {
		log.Warn().Err(err).Msg("Holiday refresh failed, using persisted calendar")
	}

	var rsn domain.Reasoner
	if cfg.Reasoner.APIKey != "" {
		rsn = reasoner.New(reasoner.Config{
			BaseURL: cfg.Reasoner.BaseURL,
			APIKey:  cfg.Reasoner.APIKey,
			Model:   cfg.Reasoner.Model,
		}, log)
	} else {
		log.Warn().Msg("Reasoner API key not set, analysis narration disabled")
	}

	hub := notify.NewHub(log)
	defer hub.Close()

	allocator := portfolio.New(portfolio.Config{
		MaxSinglePositionPct: cfg.Risk.MaxSinglePositionPct,
		MinCashRatio:         cfg.Risk.MinCashRatio,
		MaxTotalStockPct:     cfg.Risk.MaxTotalStockPct,
	}, log)

	// The monitor's callbacks point at the coordinator, which does not
	// exist yet; the closures capture the variable, filled in below.
	var coord *coordinator.Coordinator
	monitor := risk.New(
		risk.Config{SuddenMoveThresholdPct: cfg.Risk.SuddenMoveThresholdPct},
		priceFetcher(clients),
		func(a domain.Alert) { coord.DispatchAlert(a) },
		func(ctx context.Context, e risk.WatchEntry, k domain.AlertKind) { coord.AutoExecute(ctx, e, k) },
		log,
	)
	coord = coordinator.New(coordinator.Config{
		MaxDailyTrades: cfg.Risk.MaxDailyTrades,
		StopLossMode:   domain.StopLossMode(cfg.Risk.StopLossMode),
	}, clients, allocator, monitor, st, cal, hub, log)

	runner := pipeline.New(pipeline.Config{
		MaxConcurrent:   cfg.Pipeline.MaxConcurrent,
		SlotTimeout:     cfg.Pipeline.SlotTimeout,
		PositionSizePct: cfg.Risk.MaxSinglePositionPct * 100,
	}, clients, rsn, st.Sessions, hub, coord.Hooks(), log)
	coord.AttachRunner(runner)

	if err := coord.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start coordinator")
	}
	defer coord.Stop()

	jobs := startJobs(ctx, cfg, ledgerDB, stateDB, tiered, cal, log)
	defer jobs.Stop()

	dbs := []*database.DB{ledgerDB, stateDB}
	if cacheDB != nil {
		dbs = append(dbs, cacheDB)
	}
	srv := server.New(server.Config{
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Coord:     coord,
		Store:     st,
		Hub:       hub,
		Databases: dbs,
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown incomplete")
	}
	log.Info().Msg("Stopped")
}

func mustOpenDB(log zerolog.Logger, cfg database.Config) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.Name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("db", cfg.Name).Msg("Failed to migrate database")
	}
	return db
}

// buildClients returns one exchange client per market. With
// EXCHANGE_MOCK the simulator serves both markets so the whole system
// runs without credentials.
func buildClients(cfg *config.Config, limiter *ratelimit.Limiter, tiered *cache.Cache,
	log zerolog.Logger) map[domain.Market]domain.ExchangeClient {
	if cfg.Exchange.Mock {
		log.Warn().Msg("EXCHANGE_MOCK set, routing all orders to the simulator")
		return map[domain.Market]domain.ExchangeClient{
			domain.MarketStock: simulator.New(simulator.Config{
				Market: domain.MarketStock,
				Cash:   100_000_000,
				BasePrices: map[string]float64{
					"005930": 71_000, "000660": 178_000, "035420": 215_000,
				},
			}, log),
			domain.MarketCrypto: simulator.New(simulator.Config{
				Market: domain.MarketCrypto,
				Cash:   100_000_000,
				BasePrices: map[string]float64{
					"KRW-BTC": 95_000_000, "KRW-ETH": 4_800_000,
				},
			}, log),
		}
	}
	return map[domain.Market]domain.ExchangeClient{
		domain.MarketStock: kiwoom.New(kiwoom.Config{
			AppKey:    cfg.Exchange.AppKey,
			AppSecret: cfg.Exchange.AppSecret,
			AccountNo: cfg.Exchange.AccountNo,
			BaseURL:   cfg.Exchange.BaseURL,
		}, limiter, tiered, log),
		domain.MarketCrypto: upbit.New(upbit.Config{
			AccessKey: cfg.Exchange.CryptoKey,
			SecretKey: cfg.Exchange.CryptoSecret,
			BaseURL:   cfg.Exchange.CryptoURL,
		}, limiter, tiered, log),
	}
}

// priceFetcher routes a watch-loop quote to the right exchange. Crypto
// pairs carry the "KRW-" prefix, KRX codes are numeric.
func priceFetcher(clients map[domain.Market]domain.ExchangeClient) risk.PriceFetcher {
	return func(ctx context.Context, assetID string) (float64, error) {
		market := domain.MarketStock
		if strings.HasPrefix(assetID, "KRW-") {
			market = domain.MarketCrypto
		}
		client, ok := clients[market]
		if !ok {
			return 0, domain.ErrConfiguration
		}
		info, err := client.GetAsset(ctx, assetID)
		if err != nil {
			return 0, err
		}
		return info.Price, nil
	}
}

// startJobs schedules the maintenance work that is not owned by the
// coordinator: cache sweeps, daily holiday refresh and, when
// configured, database backups.
func startJobs(ctx context.Context, cfg *config.Config, ledgerDB, stateDB *database.DB,
	tiered *cache.Cache, cal *calendar.Service, log zerolog.Logger) *cron.Cron {
	jobs := cron.New(cron.WithLocation(calendar.KST))

	jobs.AddFunc("*/5 * * * *", func() { tiered.Sweep(ctx) })
	jobs.AddFunc("0 6 * * *", func() {
		if err := cal.Refresh(ctx, time.Now().In(calendar.KST).Year()); err != nil {
			log.Warn().Err(err).Msg("Scheduled holiday refresh failed")
		}
	})

	if cfg.Backup.Enabled {
		objStore, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Bucket:    cfg.Backup.Bucket,
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("Backup disabled, S3 client init failed")
		} else {
			backup := reliability.NewBackupService(
				[]*database.DB{ledgerDB, stateDB}, objStore, cfg.DataDir, cfg.Backup.RetentionDays, log)
			if _, err := jobs.AddFunc(cfg.Backup.Schedule, func() {
				if err := backup.Run(ctx); err != nil {
					log.Error().Err(err).Msg("Scheduled backup failed")
				}
			}); err != nil {
				log.Error().Err(err).Str("schedule", cfg.Backup.Schedule).Msg("Invalid backup schedule")
			} else {
				log.Info().Str("schedule", cfg.Backup.Schedule).Msg("Backups scheduled")
			}
		}
	}

	jobs.Start()
	return jobs
}
