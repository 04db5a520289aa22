package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/persistence"
	"LendLedger/internal/server"
	"LendLedger/internal/stream"
	"LendLedger/internal/transfer"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEND_CONFIG"), "path to TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger := observability.NewLogger("main")
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger := observability.NewLogger("main")
		logger.Fatal().Err(err).Msg("validate config")
	}

	level := observability.ParseLevel(cfg.LogLevel)
	log := observability.NewLoggerWithLevel("main", level)
	log.Info().Msg("lendledger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Oracle sources ---
	prices := oracle.NewDirectory()
	prices.Instrument(metrics)
	static := oracle.NewStatic()
	prices.AddSource("static", static)

	if cfg.Oracle.FeedURL != "" {
		var feed oracle.Source = oracle.NewHTTPSource(cfg.Oracle.FeedURL, cfg.Oracle.Timeout.Duration)
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("redis unreachable, oracle cache disabled")
			} else {
				feed = oracle.NewCachedSource(feed, rdb, cfg.Redis.CacheTTL.Duration)
				log.Info().Str("addr", cfg.Redis.Addr).Msg("oracle cache enabled")
			}
		}
		prices.AddSource("feed", feed)
	}

	// --- Event fan-out ---
	// Persist sends block so no event is lost; publish sends drop on a full
	// channel because Postgres remains the source of truth.
	var persistChan chan event.Row
	if cfg.Postgres.DSN != "" {
		persistChan = make(chan event.Row, cfg.Postgres.ChannelBuffer)
	}
	var publishChan chan event.Row
	if cfg.NATS.URL != "" {
		publishChan = make(chan event.Row, cfg.NATS.ChannelBuffer)
	}

	var eventsEmitted atomic.Int64
	sink := core.SinkFunc(func(env event.Envelope) {
		row, err := event.Encode(env)
		if err != nil {
			log.Error().Err(err).Int64("sequence", env.Sequence).Msg("event encode failed")
			return
		}
		if persistChan != nil {
			persistChan <- row
		}
		if publishChan != nil {
			select {
			case publishChan <- row:
			default:
				metrics.PublishDrops.Inc()
			}
		}
		eventsEmitted.Add(1)
	})

	// --- Engine ---
	engine := core.NewEngine(core.Config{
		Prices:    prices,
		Transfers: transfer.NewVault(),
		Sink:      sink,
		Metrics:   metrics,
		Logger:    observability.NewLoggerWithLevel("core", level),
		Rates: ledger.Rates{
			BorrowRateBps:  cfg.Ledger.BorrowRateBps,
			DepositRateBps: cfg.Ledger.DepositRateBps,
		},
		StrictWithdrawals: cfg.Ledger.StrictWithdrawals,
		CallTimeout:       cfg.Ledger.CallTimeout.Duration,
	})

	errChan := make(chan error, 8)

	// --- Postgres: migrate, recover, persist worker, snapshots ---
	var db *sql.DB
	var snapStore *persistence.SnapshotStore
	if cfg.Postgres.DSN != "" {
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}

		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log)
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}

		snapStore = persistence.NewSnapshotStore(db)
		if err := recoverState(ctx, engine, db, snapStore, log); err != nil {
			log.Fatal().Err(err).Msg("recovery failed")
		}

		worker := persistence.NewWorker(db, persistChan, cfg.Postgres.BatchSize,
			cfg.Postgres.FlushInterval.Duration, metrics, log)
		go func() {
			errChan <- worker.Run(ctx)
		}()

		go snapshotLoop(ctx, engine, snapStore, metrics, &eventsEmitted, cfg.Postgres.SnapshotEvery, log)
	} else {
		log.Warn().Msg("no postgres DSN, running in-memory only")
	}

	// --- NATS: outbound publisher ---
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			log.Fatal().Err(err).Msg("jetstream init")
		}
		if err := stream.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.SubjectPrefix); err != nil {
			log.Fatal().Err(err).Msg("ensure stream")
		}

		publisher := stream.NewPublisher(js, publishChan, cfg.NATS.SubjectPrefix, metrics, log)
		go func() {
			errChan <- publisher.Run(ctx)
		}()
		log.Info().Str("url", cfg.NATS.URL).Str("stream", cfg.NATS.Stream).Msg("nats publisher started")
	}

	// --- HTTP API ---
	api := server.New(engine, static, health, cfg.Admin.OwnerToken,
		observability.NewLoggerWithLevel("http", level))
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	health.SetReady(true)
	log.Info().Msg("lendledger ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("worker failed, shutting down")
		}
	}

	health.SetReady(false)

	// Stop accepting operations first, then drain the persist channel.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics shutdown")
	}

	if persistChan != nil {
		close(persistChan)
		// Give the worker a moment to flush the tail of the log.
		time.Sleep(500 * time.Millisecond)
	}
	if snapStore != nil {
		if err := snapStore.Save(shutdownCtx, engine.CreateSnapshot()); err != nil {
			log.Warn().Err(err).Msg("final snapshot failed")
		}
	}

	cancel()
	log.Info().Msg("lendledger stopped")
}

// recoverState rebuilds the engine from the latest snapshot plus the event
// rows logged after it.
func recoverState(ctx context.Context, engine *core.Engine, db *sql.DB, snapStore *persistence.SnapshotStore, log zerolog.Logger) error {
	fromSequence := int64(0)

	snap, err := snapStore.LoadLatest(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		if err := engine.RestoreFromSnapshot(*snap); err != nil {
			return err
		}
		fromSequence = snap.Sequence
		log.Info().Int64("sequence", snap.Sequence).Msg("snapshot restored")
	} else {
		log.Info().Msg("no snapshot, cold start")
	}

	writer := persistence.NewEventLogWriter(db)
	replayed := 0
	const pageSize = 1000
	for {
		rows, err := writer.LoadEventsFrom(ctx, fromSequence, pageSize)
		if err != nil {
			return err
		}
		for _, row := range rows {
			env, err := event.Decode(row)
			if err != nil {
				return err
			}
			if err := engine.ApplyEvent(env); err != nil {
				return err
			}
			fromSequence = row.Sequence + 1
			replayed++
		}
		if len(rows) < pageSize {
			break
		}
	}
	if replayed > 0 {
		log.Info().Int("events", replayed).Int64("sequence", engine.Sequence()).Msg("event replay complete")
	}
	return nil
}

// snapshotLoop periodically persists a full snapshot once enough events have
// been emitted since the last one.
func snapshotLoop(ctx context.Context, engine *core.Engine, snapStore *persistence.SnapshotStore, metrics *observability.Metrics, emitted *atomic.Int64, every int64, log zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var lastCount int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := emitted.Load()
			if count-lastCount < every {
				continue
			}
			snap := engine.CreateSnapshot()
			if err := snapStore.Save(ctx, snap); err != nil {
				log.Warn().Err(err).Msg("snapshot save failed")
				continue
			}
			lastCount = count
			metrics.SnapshotTaken.Inc()
			metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
			log.Info().Int64("sequence", snap.Sequence).Msg("snapshot saved")
		}
	}
}
