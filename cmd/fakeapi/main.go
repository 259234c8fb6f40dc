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

	"dishly/internal/config"
	"dishly/internal/consul"
	"dishly/internal/fakeapi"
	"dishly/internal/logger"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	log := logger.New()
	logger.SetDefault(log)

	cfg, err := config.LoadEmulator()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	emu, err := fakeapi.New(fakeapi.Options{
		JWTSecret:   cfg.JWTSecret,
		TokenTTL:    cfg.TokenTTL,
		CORSOrigins: cfg.CORSOrigins,
		SeedUsers:   cfg.SeedUsers,
		Logger:      log,
	})
	if err != nil {
		slog.Error("Failed to build emulator", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting fake API",
		"host", cfg.Host,
		"port", cfg.Port,
		"token_ttl", cfg.TokenTTL,
		"seed_users", len(cfg.SeedUsers),
	)

	// Registration is optional so the emulator also runs without Consul
	var consulClient *consul.Client
	serviceID := fmt.Sprintf("%s-%s-%d", cfg.ServiceName, cfg.Host, cfg.Port)
	if cfg.ConsulAddr != "" {
		consulClient, err = consul.NewClient(cfg.ConsulAddr, cfg.ConsulToken)
		if err != nil {
			slog.Error("Failed to create Consul client", "error", err)
			os.Exit(1)
		}

		// Deregister any existing instance with same ID (cleanup from previous crashes)
		_ = consulClient.Deregister(serviceID)

		err = consulClient.Register(&consul.ServiceConfig{
			ID:      serviceID,
			Name:    cfg.ServiceName,
			Address: cfg.Host,
			Port:    cfg.Port,
			Tags:    []string{"dishly", "fakeapi"},
			Check: &consul.HealthCheck{
				HTTP:     fmt.Sprintf("http://%s:%d/health", cfg.Host, cfg.Port),
				Interval: "10s",
				Timeout:  "3s",
			},
		})
		if err != nil {
			slog.Error("Failed to register service with Consul", "error", err)
			os.Exit(1)
		}
		slog.Info("Registered with Consul", "service_id", serviceID)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      emu.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Fake API listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down fake API")

	if consulClient != nil {
		if err := consulClient.Deregister(serviceID); err != nil {
			slog.Warn("Failed to deregister from Consul", "error", err)
		} else {
			slog.Info("Deregistered from Consul")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Fake API stopped")
}
