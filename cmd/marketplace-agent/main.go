package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/marketplace-agent/internal/api"
	"github.com/maltedev/marketplace-agent/internal/browser"
	"github.com/maltedev/marketplace-agent/internal/config"
	"github.com/maltedev/marketplace-agent/internal/database"
	"github.com/maltedev/marketplace-agent/internal/events"
	"github.com/maltedev/marketplace-agent/internal/llm"
	"github.com/maltedev/marketplace-agent/internal/logging"
	"github.com/maltedev/marketplace-agent/internal/marketplace"
	"github.com/maltedev/marketplace-agent/internal/readiness"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		recorder events.Recorder = events.NopRecorder{}
		stats    api.OutboxStats
		runs     api.RunLister
	)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	if cfg.Database.Host != "" {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			MaxConns: int32(cfg.Database.MaxConns),
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		recorder = events.NewPublisher(db, cfg.Redis.Stream, logger)
		runs = database.NewRunRepository(db)

		relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Database.RelayEvery,
			BatchSize:    cfg.Database.RelayBatch,
		})
		stats = relay

		switch {
		case redisClient == nil:
			logger.Warn("redis not configured, outbox events will not be relayed")
		case !cfg.Database.RelayEnabled:
			logger.Info("outbox relay disabled")
		default:
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped", "error", err)
				}
			}()
		}
	} else if redisClient != nil {
		recorder = events.NewStreamPublisher(redisClient, cfg.Redis.Stream, logger)
	}

	session := browser.NewSession(browserOptions(cfg.Browser), logger)
	engine := marketplace.New(engineConfig(cfg), marketplace.Deps{
		Session: session,
		LLM: llm.NewOpenAIClient(llm.Config{
			APIURL:            cfg.LLM.APIURL,
			APIKey:            cfg.LLM.APIKey,
			Model:             cfg.LLM.Model,
			Temperature:       cfg.LLM.Temperature,
			MaxTokens:         cfg.LLM.MaxTokens,
			Timeout:           cfg.LLM.Timeout,
			MaxRetries:        cfg.LLM.MaxRetries,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Burst:             cfg.LLM.Burst,
		}, logger),
		Recorder: recorder,
		Logger:   logger,
	})

	handlers := api.NewHandlers(engine, stats, runs, logger)
	router := api.NewRouter(handlers, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		if result := engine.Close(shutdownCtx); result.Failed() {
			logger.Error("browser shutdown failed", "error", result.Error)
		}
	}()

	logger.Info("server starting", "addr", server.Addr, "model", cfg.LLM.Model)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func browserOptions(c config.BrowserConfig) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Headless
	opts.Timeout = c.Timeout
	opts.ViewportWidth = c.ViewportWidth
	opts.ViewportHeight = c.ViewportHeight
	opts.TimezoneID = c.TimezoneID
	opts.Locale = c.Locale
	opts.ProxyServer = c.ProxyServer
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}

func engineConfig(cfg *config.Config) marketplace.Config {
	m := cfg.Marketplace
	ec := marketplace.DefaultConfig()
	ec.MaxResults = m.MaxResults
	ec.MaxReviews = m.MaxReviews
	ec.MaxReviewsLimit = m.MaxReviewsLimit
	ec.ReviewsPerProduct = m.ReviewsPerProduct
	ec.ReviewPacing = m.ReviewPacing
	ec.ScrollAttempts = m.ScrollAttempts
	ec.LoadMoreClicks = m.LoadMoreClicks
	ec.PaginationPages = m.PaginationPages
	ec.PageLoadTimeout = m.PageLoadTimeout
	ec.NavigationRetries = m.NavigationRetries
	ec.HTMLBudget = m.HTMLBudget
	ec.AntiBotWaitTimeout = m.AntiBotWaitTimeout
	ec.Humanize = cfg.Browser.Humanize

	r := readiness.DefaultConfig()
	r.Budget = cfg.Readiness.Budget
	r.SettleInterval = cfg.Readiness.SettleInterval
	r.HeightThreshold = cfg.Readiness.HeightThreshold
	r.SelectorTimeout = cfg.Readiness.SelectorTimeout
	r.FinalPause = cfg.Readiness.FinalPause
	ec.Readiness = r
	return ec
}
