package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/msanchis/physionotify/internal/api"
	"github.com/msanchis/physionotify/internal/circuitbreaker"
	"github.com/msanchis/physionotify/internal/config"
	"github.com/msanchis/physionotify/internal/db"
	"github.com/msanchis/physionotify/internal/dispatch"
	"github.com/msanchis/physionotify/internal/mail"
	"github.com/msanchis/physionotify/internal/metrics"
	"github.com/msanchis/physionotify/internal/observ"
	"github.com/msanchis/physionotify/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting physionotify gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for dispatch replay and rate limiting. Redis being
	// down disables both; dispatch itself keeps working.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitRequests,
			Window: time.Duration(cfg.RateLimitWindow) * time.Second,
		})
		defer redisClient.Close()
	}

	// The SMTP circuit breaker outlives individual batches so repeated
	// failures across batches open it.
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("smtp"), logger)

	newMailer := func(emailCfg db.EmailConfig) dispatch.Mailer {
		smtp := mail.NewSMTP(mail.SMTPConfig{
			Host:     emailCfg.Host,
			Port:     emailCfg.Port,
			Secure:   emailCfg.Secure,
			User:     emailCfg.User,
			Password: emailCfg.Password,
		}, logger)
		return circuitbreaker.NewProtectedMailer(smtp, breaker, logger)
	}

	engine := dispatch.New(repo, newMailer, dispatch.Config{
		TempDir: cfg.TempDir,
	}, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, repo, engine, idempotencyService)
	} else {
		handler = api.NewHandler(logger, repo, engine)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/dispatch", func(r chi.Router) {
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
			r.Post("/alta", handler.DispatchAlta)
			r.Post("/baja", handler.DispatchBaja)
		})

		r.Get("/physios", handler.ListPhysios)
		r.Post("/physios", handler.CreatePhysio)
		r.Post("/physios/{id}/baja", handler.SetBajaDate)
		r.Get("/physios/pending-alta", handler.PendingAlta)
		r.Get("/physios/pending-baja", handler.PendingBaja)

		r.Get("/notifications", handler.ListNotifications)
		r.Get("/notifications/{id}", handler.GetNotification)

		r.Get("/templates", handler.ListTemplates)
		r.Post("/templates", handler.CreateTemplate)
		r.Put("/templates/{id}", handler.UpdateTemplate)

		r.Get("/recipients", handler.ListRecipients)
		r.Post("/recipients", handler.CreateRecipient)
		r.Put("/recipients/{id}", handler.UpdateRecipient)

		r.Get("/config", handler.ListConfig)
		r.Put("/config/{key}", handler.SetConfig)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server. Write timeout must cover a full dispatch batch:
	// sends run synchronously inside the request.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give in-flight dispatches time to finish their current subject
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
