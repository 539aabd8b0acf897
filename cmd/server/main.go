package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/support-relay-go/internal/config"
	"github.com/openclaw/support-relay-go/internal/database"
	"github.com/openclaw/support-relay-go/internal/handler"
	"github.com/openclaw/support-relay-go/internal/hub"
	"github.com/openclaw/support-relay-go/internal/jobs"
	"github.com/openclaw/support-relay-go/internal/middleware"
	"github.com/openclaw/support-relay-go/internal/redis"
	"github.com/openclaw/support-relay-go/internal/repository"
	"github.com/openclaw/support-relay-go/internal/service"
	"github.com/openclaw/support-relay-go/internal/sse"
	"github.com/openclaw/support-relay-go/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	healthChecks := make(map[string]handler.Pinger)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		healthChecks["redis"] = redisClient
		log.Info().Msg("redis connected")
	}

	var eventRepo repository.SessionEventRepository
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare database schema")
		}
		cancel()
		healthChecks["database"] = db
		eventRepo = repository.NewSessionEventRepository(db.DB)
		log.Info().Msg("database connected")
	}

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var (
		recorder     *service.EventRecorder
		eventHistory handler.EventHistory
		fanout       *service.EventFanout
	)
	if eventRepo != nil {
		recorder = service.NewEventRecorder(eventRepo, config.EventRecorderBuffer)
		recorder.Start()
		defer recorder.Stop()
		eventHistory = recorder
		fanout = service.NewEventFanout(broker, recorder, config.EventRecorderBuffer)
	} else {
		fanout = service.NewEventFanout(broker, nil, config.EventRecorderBuffer)
	}
	fanout.Start()
	defer fanout.Stop()

	relay := hub.New(hub.WithEventSink(fanout))

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	}
	wsRateLimit := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin, "ws")
	apiRateLimit := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin, "api")
	snapshotAuth := middleware.NewSnapshotAuthMiddleware(cfg.SnapshotTokenHash)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	wsHandler := ws.NewHandler(relay, ws.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	sessionHandler := handler.NewSessionHandler(relay, eventHistory)
	eventsHandler := handler.NewEventsHandler(broker, relay)
	gauges := map[string]handler.Gauge{
		"sseClients": func() int64 { return int64(broker.TotalClients()) },
	}
	if recorder != nil {
		gauges["eventsDropped"] = recorder.Dropped
	}
	healthHandler := handler.NewHealthHandler(healthChecks, gauges)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	// Long-lived streams: no request timeout.
	r.With(wsRateLimit.Handler).Get("/ws", wsHandler.ServeHTTP)
	r.With(apiRateLimit.Handler, snapshotAuth.Handler).Get("/api/events", eventsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)

		r.Get("/health", healthHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Use(apiRateLimit.Handler)
			r.Use(snapshotAuth.Handler)
			r.Mount("/sessions", sessionHandler.Routes())
			r.Get("/stats", sessionHandler.GetStats)
		})

		r.Group(func(r chi.Router) {
			r.Use(securityHeadersMiddleware.Handler)
			r.Handle("/*", handler.StaticFileServer(cfg.StaticDir, "/"))
		})
	})

	livenessJob := jobs.NewLivenessJob(relay, cfg.PingInterval())
	livenessJob.Start()
	defer livenessJob.Stop()

	if eventRepo != nil {
		cleanupJob := jobs.NewCleanupJob(eventRepo, cfg.EventRetention(), config.CleanupJobInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	relay.CloseAll()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
