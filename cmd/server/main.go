package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/events"
	"dispatch/internal/handler"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.WithError(err).Warn("failed to initialize New Relic")
		} else {
			log.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled")
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	publisher := app.NewPublisher(cfg.Kafka, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("failed to close event publisher")
		}
	}()

	server, sweeper := wireServer(db, redisClient, nrApp, publisher, log, cfg)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go sweeper.Run(runCtx)

	go func() {
		log.WithField("port", cfg.Server.Port).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server and the expiry sweeper.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	publisher events.Publisher,
	log *logrus.Logger,
	cfg *config.Config,
) (*http.Server, *service.Sweeper) {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	store := postgres.NewStore(db)
	gateway := app.NewGateway(cfg.Stripe, log)

	// Initialize services.
	notifier := service.NewNotificationService(store.Notifications(), publisher, log)
	locator := service.NewLocatorService(locationStore, cacheStore, store.Drivers(), store.Credits(), log, service.LocatorConfig{
		Freshness:      cfg.Dispatch.Freshness,
		CandidateLimit: cfg.Dispatch.CandidateLimit,
	})
	dispatcher := service.NewDispatcher(store, locator, locationStore, lockStore, notifier, publisher, log, service.DispatchConfig{
		RadiusNormalKm:  cfg.Dispatch.RadiusNormalKm,
		RadiusHighKm:    cfg.Dispatch.RadiusHighKm,
		RadiusUrgentKm:  cfg.Dispatch.RadiusUrgentKm,
		RetryNormal:     cfg.Dispatch.RetryNormal,
		RetryHigh:       cfg.Dispatch.RetryHigh,
		RetryUrgent:     cfg.Dispatch.RetryUrgent,
		NotificationTTL: cfg.Dispatch.NotificationTTL,
		DriverLockTTL:   cfg.Dispatch.DriverLockTTL,
		AvgSpeedKmh:     cfg.Dispatch.AvgSpeedKmh,
	})
	pricing := service.NewPricingService(locationStore, store.Requests(), log, service.DefaultPricingConfig())
	negotiator := service.NewNegotiator(store, locator, dispatcher, pricing, locationStore, notifier, publisher, log, service.BiddingConfig{
		Window:          cfg.Bidding.Window,
		RaiseIncrement:  cfg.Bidding.RaiseIncrement,
		MaxRounds:       cfg.Bidding.MaxRounds,
		NotificationTTL: cfg.Dispatch.NotificationTTL,
	})
	arrivalService := service.NewArrivalService(store, notifier, publisher, log, service.ArrivalConfig{
		MinElapsed:       cfg.Arrival.MinElapsed,
		MaxDistanceM:     cfg.Arrival.MaxDistanceM,
		LowCreditBalance: cfg.Arrival.LowCreditBalance,
	})
	escrowService := service.NewEscrowService(store, gateway, notifier, publisher, log, nil)
	requestService := service.NewRequestService(store, dispatcher, locationStore, notifier, publisher, log, nil)
	driverService := service.NewDriverService(store, locationStore, cacheStore, locator, log, nil)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		RequestHandler: handler.NewRequestHandler(requestService, dispatcher, arrivalService),
		BiddingHandler: handler.NewBiddingHandler(negotiator),
		EscrowHandler:  handler.NewEscrowHandler(escrowService),
		DriverHandler:  handler.NewDriverHandler(driverService),
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return server, service.NewSweeper(negotiator, cfg.Sweep.Interval, log)
}
