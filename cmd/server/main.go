package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/app"
	"github.com/pearconnect/connect-server/internal/config"
	"github.com/pearconnect/connect-server/internal/discovery"
	"github.com/pearconnect/connect-server/internal/handler"
	"github.com/pearconnect/connect-server/internal/httputil"
	"github.com/pearconnect/connect-server/internal/hub"
	"github.com/pearconnect/connect-server/internal/jobs"
	"github.com/pearconnect/connect-server/internal/middleware"
	"github.com/pearconnect/connect-server/internal/redis"
	"github.com/pearconnect/connect-server/internal/service"
	"github.com/pearconnect/connect-server/internal/sse"
	"github.com/pearconnect/connect-server/internal/transport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	generated, err := cfg.EnsureSecret()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create signing secret")
	}
	if generated && cfg.ConfigFile != "" {
		if err := config.PersistSecret(cfg.ConfigFile, cfg.SigningSecret); err != nil {
			log.Error().Err(err).Msg("failed to persist signing secret")
		} else {
			log.Info().Str("path", cfg.ConfigFile).Msg("signing secret persisted")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	sweepJob := jobs.NewSweepJob(config.SweepJobInterval)

	var pairingLimiter, connectLimiter service.AttemptLimiter
	if redisClient != nil {
		pairingLimiter = service.NewRedisAttemptLimiter(redisClient.Client, redis.AttemptKeyPrefix, cfg.PairingAttemptsPerMin, config.PairingAttemptWindow)
		connectLimiter = service.NewRedisAttemptLimiter(redisClient.Client, redis.AttemptKeyPrefix+":connect", cfg.ConnectAttemptsPerMin, config.PairingAttemptWindow)
	} else {
		memPairing := service.NewMemoryAttemptLimiter(cfg.PairingAttemptsPerMin, config.PairingAttemptWindow)
		memConnect := service.NewMemoryAttemptLimiter(cfg.ConnectAttemptsPerMin, config.PairingAttemptWindow)
		sweepJob.Register("pairing limiter", memPairing)
		sweepJob.Register("connect limiter", memConnect)
		pairingLimiter, connectLimiter = memPairing, memConnect
	}

	broker := sse.NewBroker(redisClient)
	defer broker.Close()
	hostPublisher := sse.NewHostPublisher(broker)
	go hostPublisher.Run(ctx)

	core, err := hub.New(hub.Options{
		Settings:      app.Settings(cfg),
		SigningSecret: cfg.SigningSecret,
		Host:          hostPublisher,
		Limiter:       pairingLimiter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create hub")
	}
	hubDone := make(chan struct{})
	go func() {
		core.Run(ctx)
		close(hubDone)
	}()

	sweepJob.Register("pairings", core)
	sweepJob.Start()
	defer sweepJob.Stop()

	lanRouter := transport.NewRouter(ctx, core, transport.RouterOptions{ConnectLimiter: connectLimiter})
	advertiser := discovery.NewMDNSAdvertiser()
	runtime := app.New(cfg, app.Options{
		Core:       core,
		Handler:    lanRouter,
		Advertiser: advertiser,
		OnLogLevel: setLogLevel,
	})
	runtime.Start()

	if cfg.ConfigFile != "" {
		watcher, err := config.NewWatcher(cfg.ConfigFile, cfg, runtime.Apply)
		if err != nil {
			log.Error().Err(err).Msg("config hot reload unavailable")
		} else {
			go watcher.Run(ctx)
		}
	}

	controlKeyMiddleware := middleware.NewControlKeyMiddleware(cfg.ControlKeyHash)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware()

	eventsHandler := handler.NewEventsHandler(broker)
	hostHandler := handler.NewHostHandler(core, eventsHandler)
	adminHandler := handler.NewAdminHandler(core)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, runtime.Port(), core.Status())
	})

	r.Route("/host", func(r chi.Router) {
		r.Use(controlKeyMiddleware.Handler)
		r.Mount("/", hostHandler.Routes())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(controlKeyMiddleware.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", adminHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.ControlAddr,
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.ControlAddr).Msg("starting control API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control API error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	runtime.Stop(shutdownCtx)
	broker.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API forced to shutdown")
	}

	cancel()
	<-hubDone

	log.Info().Msg("server stopped")
}

func writeHealth(w http.ResponseWriter, port int, status hub.Status) {
	state := "ok"
	if port == 0 {
		state = "disabled"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      state,
		"port":        port,
		"connections": status.Connections,
		"timestamp":   time.Now().UnixMilli(),
	})
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
