package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/phihocnguyen/ridemate-server/internal/cleanup"
	"github.com/phihocnguyen/ridemate-server/internal/config"
	"github.com/phihocnguyen/ridemate-server/internal/fare"
	"github.com/phihocnguyen/ridemate-server/internal/geo"
	httpapi "github.com/phihocnguyen/ridemate-server/internal/http"
	"github.com/phihocnguyen/ridemate-server/internal/ingest"
	"github.com/phihocnguyen/ridemate-server/internal/ledger"
	"github.com/phihocnguyen/ridemate-server/internal/logging"
	"github.com/phihocnguyen/ridemate-server/internal/match"
	"github.com/phihocnguyen/ridemate-server/internal/notify"
	"github.com/phihocnguyen/ridemate-server/internal/payments"
	"github.com/phihocnguyen/ridemate-server/internal/sanction"
	"github.com/phihocnguyen/ridemate-server/internal/scoring"
	"github.com/phihocnguyen/ridemate-server/internal/session"
	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var (
		matchStore    storage.MatchStore    = storage.NewMemoryMatchStore()
		sessionStore  storage.SessionStore  = storage.NewMemorySessionStore()
		ledgerStore   ledger.Store          = ledger.NewMemoryStore()
		reportStore   storage.ReportStore   = storage.NewMemoryReportStore()
		sanctionStore storage.SanctionStore = storage.NewMemorySanctionStore()
	)
	if cfg.PGDSN != "" {
		db, err := storage.OpenPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			b, err := os.ReadFile(filepath.Join("migrations", "001_core.sql"))
			if err != nil {
				logger.Error("migration read failed", "error", err)
				os.Exit(1)
			}
			if _, err := db.Exec(string(b)); err != nil {
				logger.Error("migration exec failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migration applied", "file", "001_core.sql")
		}
		matchStore = storage.NewPostgresMatchStore(db)
		sessionStore = storage.NewPostgresSessionStore(db)
		ledgerStore = storage.NewPostgresAccountStore(db)
		reportStore = storage.NewPostgresReportStore(db)
		sanctionStore = storage.NewPostgresSanctionStore(db)
	}

	var directory geo.Directory = geo.NewIndex()
	if cfg.RedisAddr != "" {
		directory = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis driver directory", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	coins := ledger.New(ledgerStore, logging.Component(logger, "ledger"))
	sessions := session.NewManager(sessionStore, logging.Component(logger, "session"))
	sanctions := sanction.NewEngine(reportStore, sanctionStore, logging.Component(logger, "sanction"))

	ws := notify.NewWSNotifier(logging.Component(logger, "ws"))
	notifier := notify.Fanout{ws}
	if cfg.PushEndpoint != "" {
		notifier = append(notifier, notify.NewPushNotifier(cfg.PushEndpoint))
	}

	dispatcher := &match.Dispatcher{
		Store:    matchStore,
		Sessions: sessions,
		Scorer: &scoring.Scorer{
			Weights: scoring.Weights{
				Distance:   cfg.WeightDistance,
				Rating:     cfg.WeightRating,
				Acceptance: cfg.WeightAcceptance,
				ETA:        cfg.WeightETA,
				Completion: cfg.WeightCompletion,
			},
			AvgSpeedKmh:   cfg.AvgSpeedKmh,
			MaxCandidates: cfg.MaxCandidates,
		},
		Fares:     &fare.Calculator{BaseCoin: cfg.FareBaseCoin, CoinPerKm: cfg.FareCoinPerKm},
		Directory: directory,
		Notifier:  notifier,
		Settler:   coins,
		Locks:     sanctions,
		Logger:    logging.Component(logger, "dispatch"),
		Now:       time.Now,
	}

	topUp := payments.NewTopUpService(payments.NewStripeClient(), coins, logging.Component(logger, "payments"))
	verifications := storage.NewMemoryVerificationStore()

	srv := httpapi.NewServer(dispatcher, coins, ledger.NewVoucherService(coins), ledger.NewDailySpin(coins),
		sanctions, producer, ws, topUp, directory, verifications, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := cleanup.NewSweeper(verifications, cfg.CleanupInterval,
		logging.Component(logger, "cleanup"))
	go sweeper.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
