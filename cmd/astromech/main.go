package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"astromech/internal/analytics"
	"astromech/internal/audit"
	"astromech/internal/bot"
	"astromech/internal/config"
	"astromech/internal/leveling"
	"astromech/internal/rules"
	"astromech/internal/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	ruleStore := rules.NewStore(cfg.RulesPath, logger)
	if err := ruleStore.Load(); err != nil {
		logger.Fatal("rules load failed", zap.String("path", cfg.RulesPath), zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	analyticsService := analytics.New(store)
	levelingModule := leveling.New(store, cfg.Leveling)

	botSvc, err := bot.New(cfg, logger, store, ruleStore, levelingModule, auditLogger, analyticsService)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{Addr: cfg.Health.Addr}
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown requested")
	case <-botSvc.Done():
		logger.Info("shutdown command received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
