package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ugshanyu/space-craft-standalone/internal/auth"
	"github.com/ugshanyu/space-craft-standalone/internal/config"
	"github.com/ugshanyu/space-craft-standalone/internal/game"
	"github.com/ugshanyu/space-craft-standalone/internal/gateway"
	"github.com/ugshanyu/space-craft-standalone/internal/middleware"
	"github.com/ugshanyu/space-craft-standalone/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	jwks := auth.NewJWKSCache(cfg.JWKSURL, logger)
	verifier := auth.NewVerifier(jwks, cfg.ServiceID, cfg.TokenIssuer, logger)
	signer := webhook.NewSigner(cfg.APIURL, cfg.ServiceID, cfg.SigningKeyID, cfg.SigningSecret, logger)

	var archive *game.Archive
	if cfg.RedisAddr != "" {
		archive = game.NewArchive(cfg.RedisAddr, 24*time.Hour)
		defer archive.Close()
	}

	registry := game.NewRegistry(game.Options{
		Profile: game.Profile{
			Region: cfg.DeployRegion,
			SimHz:  cfg.SimTickHz,
			NetHz:  cfg.NetworkHz,
		},
		FullSnapshotEvery: cfg.FullSnapshotEvery,
		Signer:            signer,
		ServiceID:         cfg.ServiceID,
		Archive:           archive,
		Metrics:           game.NewMetrics(),
		Logger:            logger,
	})

	ws := gateway.NewHandler(verifier, registry, cfg.AllowedOrigins, logger)

	limiter := middleware.NewRateLimiter(30, logger)

	router := mux.NewRouter()
	router.Handle("/ws", limiter.Middleware(http.HandlerFunc(ws.ServeWS)))
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        "healthy",
			"service":       "space-craft-arena",
			"deploy_region": cfg.DeployRegion,
			"rooms_open":    registry.Len(),
		})
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutdown signal received")

		registry.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server listening",
		"port", cfg.Port,
		"deploy_region", cfg.DeployRegion,
		"sim_hz", cfg.SimTickHz,
		"net_hz", cfg.NetworkHz)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
