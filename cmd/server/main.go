package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"veridoc/internal/app"
	"veridoc/internal/config"
	"veridoc/internal/server"
	"veridoc/internal/util"
	"veridoc/pkg/storage"
	"veridoc/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCfg := app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		RedisAddr:       cfg.RedisAddr,
		RedisPassword:   cfg.RedisPassword,
		SessionTTL:      sessionTTL,
		SessionStrategy: cfg.SessionStrategy,
		JWTSecret:       cfg.JWTSecret,
		MinioEndpoint:   cfg.MinioEndpoint,
		MinioAccessKey:  cfg.MinioAccessKey,
		MinioSecretKey:  cfg.MinioSecretKey,
		MinioBucket:     cfg.MinioBucket,
		MinioUseSSL:     cfg.MinioUseSSL,
		AMQPURL:         cfg.AMQPURL,
		AMQPExchange:    cfg.AMQPExchange,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.StoreStrategy), "memory") {
		slog.Warn("running with in-memory stores, data is lost on restart")
		appCfg.Store = store.NewMemoryStore()
		appCfg.Objects = storage.NewMemoryObjectStore()
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SignupLimit:    cfg.SignupRateLimitPerMinute,
		LoginLimit:     cfg.LoginRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
