package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/regscope-ai/platform/pkg/auth"
	"github.com/regscope-ai/platform/pkg/common/config"
	"github.com/regscope-ai/platform/pkg/common/database"
	"github.com/regscope-ai/platform/pkg/common/kafka"
	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/fetch"
	"github.com/regscope-ai/platform/pkg/instrument"
	"github.com/regscope-ai/platform/pkg/joblock"
	"github.com/regscope-ai/platform/pkg/jurisdiction"
	"github.com/regscope-ai/platform/pkg/middleware"
	"github.com/regscope-ai/platform/pkg/observability/metrics"
	"github.com/regscope-ai/platform/pkg/poller"
	"github.com/regscope-ai/platform/pkg/poller/sources/cannabisregistry"
	"github.com/regscope-ai/platform/pkg/poller/sources/caselaw"
	"github.com/regscope-ai/platform/pkg/poller/sources/congress"
	"github.com/regscope-ai/platform/pkg/poller/sources/fdaadvisory"
	"github.com/regscope-ai/platform/pkg/poller/sources/federalregister"
	"github.com/regscope-ai/platform/pkg/poller/sources/statelegislature"
	"github.com/regscope-ai/platform/pkg/poller/sources/stateregs"
	"github.com/regscope-ai/platform/pkg/progress"
	"github.com/regscope-ai/platform/pkg/relevance"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	instruments := instrument.NewRepository(db)
	if err := instruments.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate instrument tables")
	}
	history := progress.NewRepository(db)
	if err := history.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate progress tables")
	}
	jurisdictions := jurisdiction.NewRepository(db)
	if err := jurisdictions.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate jurisdiction tables")
	}

	keywords, err := relevance.LoadKeywords(cfg.KeywordConfigPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load keyword config")
	}
	classifier := relevance.NewClassifier(keywords)

	lease := joblock.New(database.GetRedis(), cfg.PollerLockTTL)

	var events poller.EventPublisher
	if cfg.KafkaEventsTopic != "" {
		producer := kafka.NewProducer(cfg.KafkaEventsTopic)
		defer producer.Close()
		events = producer
	}

	runner := poller.NewRunner(
		instruments,
		history,
		lease,
		jurisdictions,
		events,
		classifier,
		cfg.PollerLockTTL,
		cfg.PollerBatchSize,
	)

	client := fetch.New(cfg.FetchTimeout)
	tuning := fetch.Tuning{
		MaxAttempts: cfg.FetchMaxAttempts,
		BaseDelay:   cfg.FetchBaseDelay,
		MaxDelay:    cfg.FetchMaxDelay,
		Timeout:     cfg.FetchTimeout,
	}

	sources := []poller.Source{
		federalregister.New(client, tuning, cfg.PollerMaxPages),
		congress.New(client, tuning, cfg.CongressAPIKey, cfg.PollerMaxPages),
		stateregs.New(client, tuning, cfg.StateRegisterFeedURL, cfg.PollStates),
		cannabisregistry.New(client, tuning, cfg.CannabisRegistryFeedURL, cfg.PollStates),
		fdaadvisory.New(client, tuning, fdaadvisory.SubstanceKratom, cfg.PollerMaxPages),
		fdaadvisory.New(client, tuning, fdaadvisory.SubstanceKava, cfg.PollerMaxPages),
		caselaw.New(client, tuning, cfg.CourtListenerToken, cfg.PollerMaxPages),
		statelegislature.New(client, tuning, cfg.OpenStatesAPIKey, cfg.PollerMaxPages),
	}

	handler := poller.NewHTTPHandler(runner, sources, history, cfg.MaxRequestBody)

	var tokens *auth.TokenManager
	if cfg.WorkerAuthSecret != "" {
		tokens, err = auth.NewTokenManager(cfg.WorkerAuthSecret, cfg.WorkerTokenTTL)
		if err != nil {
			logger.Log.WithError(err).Fatal("invalid worker auth secret")
		}
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(
		middleware.Authenticate(tokens),
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		middleware.BodyLimit(cfg.MaxRequestBody),
	)
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"sources": len(sources),
		}).Info("Poller Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Poller Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Poller Service stopped")
}
