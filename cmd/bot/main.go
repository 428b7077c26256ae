package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sdabot/internal/config"
	"sdabot/internal/domain"
	apphttp "sdabot/internal/http"
	"sdabot/internal/integrations/telegram"
	"sdabot/internal/proxy"
	"sdabot/internal/runner"
	"sdabot/internal/scheduler"
	"sdabot/internal/steam"
	storepkg "sdabot/internal/store"
	"sdabot/internal/store/memory"
	"sdabot/internal/store/postgres"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Warn("failed to load .env", zap.Error(err))
	}
	cfg := config.Load()

	var sessions storepkg.Store
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL, cfg.SessionEncryptionKey)
		if err != nil {
			logger.Warn("postgres store unavailable, falling back to memory store", zap.Error(err))
			sessions = memory.NewStore()
		} else {
			defer pgStore.Close()
			sessions = pgStore
		}
	} else {
		sessions = memory.NewStore()
	}

	proxyLines, err := config.LoadProxyLines(cfg.ProxiesFile)
	if err != nil {
		logger.Fatal("loading proxies", zap.Error(err))
	}
	proxies, err := proxy.NewPool(proxyLines)
	if err != nil {
		logger.Fatal("building proxy pool", zap.Error(err))
	}
	if proxies.Len() > 0 {
		logger.Info("proxy pool loaded", zap.Int("proxies", proxies.Len()))
	}

	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	accountRunner := runner.New(logger, sessions)
	source := &config.FileAccountSource{Path: cfg.AccountsFile}

	process := func(ctx context.Context, profile domain.AccountProfile) error {
		opts := []steam.Option{
			steam.WithMinDelay(cfg.RequestMinDelay),
			steam.WithTimeout(cfg.RequestTimeout),
		}
		if proxies.Len() > 0 {
			opts = append(opts, steam.WithProxies(proxies, cfg.ProxyBanDuration))
		}
		client := steam.NewClient(profile.Account, logger, opts...)
		_, err := accountRunner.Process(ctx, client, profile.Settings)
		return err
	}

	sched := scheduler.New(logger, source, process,
		scheduler.NewTracker(cfg.FailureThreshold), notifier, cfg.SchedulerIdle)

	srv := apphttp.NewServer(cfg, logger, sched, source, sessions)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("operator API listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
