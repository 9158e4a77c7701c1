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
	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/dispatcher"
	"github.com/regscope-ai/platform/pkg/middleware"
	"github.com/regscope-ai/platform/pkg/observability/metrics"
)

func main() {
	logger.Init()
	cfg := config.Load()

	schedule, err := dispatcher.LoadSchedule(cfg.ScheduleConfigPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load worker schedule")
	}

	var tokens *auth.TokenManager
	if cfg.WorkerAuthSecret != "" {
		tokens, err = auth.NewTokenManager(cfg.WorkerAuthSecret, cfg.WorkerTokenTTL)
		if err != nil {
			logger.Log.WithError(err).Fatal("invalid worker auth secret")
		}
	}

	client := &http.Client{Timeout: cfg.DispatchTimeout}
	d := dispatcher.New(client, cfg.PollerBaseURL, tokens, schedule, cfg.DispatchTimeout)
	handler := dispatcher.NewHTTPHandler(d)

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	handler.Register(router)

	// A tick blocks until every due worker responds, so the server must be
	// able to hold the connection for the whole schedule.
	writeTimeout := cfg.WriteTimeout
	if deadline := schedule.TickDeadline(cfg.DispatchTimeout); writeTimeout < deadline {
		writeTimeout = deadline
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"workers": len(schedule.Workers),
			"poller":  cfg.PollerBaseURL,
		}).Info("Dispatcher Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Dispatcher Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Dispatcher Service stopped")
}
