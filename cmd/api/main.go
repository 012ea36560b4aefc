package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bx-funddesk/internal/admin"
	"bx-funddesk/internal/audit"
	"bx-funddesk/internal/config"
	"bx-funddesk/internal/db"
	"bx-funddesk/internal/funds"
	"bx-funddesk/internal/httpserver"
	"bx-funddesk/internal/proofstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	proofs, err := proofstore.NewLocalStore(cfg.ProofDir)
	if err != nil {
		log.Error("proof store init failed", "error", err)
		os.Exit(1)
	}

	hub := httpserver.NewEventHub()
	publishers := funds.FanoutPublisher{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
		log.Info("audit events publishing to kafka", "topic", cfg.KafkaTopic)
	}

	store := funds.NewPostgresStore(pool)
	svc := funds.NewService(store, proofs, publishers, log)
	fundsHandler := funds.NewHandler(svc, store, proofs)
	adminHandler := admin.NewHandler(pool, cfg.JWTSecret, cfg.JWTTTL)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AdminHandler:  adminHandler,
		FundsHandler:  fundsHandler,
		EventsWS:      httpserver.NewEventsWS(hub, cfg.CORSOrigin),
		JWTSecret:     cfg.JWTSecret,
		InternalToken: cfg.InternalToken,
		CORSOrigin:    cfg.CORSOrigin,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	log.Info("server listening", "addr", cfg.HTTPAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
