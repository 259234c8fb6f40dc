package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dishly/internal/api"
	"dishly/internal/config"
	"dishly/internal/console"
	"dishly/internal/consul"
	"dishly/internal/logger"
	"dishly/internal/session"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	loginFlag := flag.String("login", "", "sign in with user:password before starting")
	tokenFlag := flag.String("token", "", "adopt an existing access token")
	flag.Parse()

	// Logs go to stderr so the console owns stdout
	log := logger.New()
	logger.SetDefault(log)

	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newTokenStore(ctx, cfg, log)
	if err != nil {
		slog.Error("Failed to create token store", "backend", cfg.TokenBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	baseURL, err := resolveBaseURL(ctx, cfg)
	if err != nil {
		slog.Error("Failed to resolve API address", "error", err)
		os.Exit(1)
	}

	client, err := api.New(baseURL, api.Options{Timeout: cfg.HTTPTimeout, Logger: log})
	if err != nil {
		slog.Error("Failed to create API client", "error", err)
		os.Exit(1)
	}
	if err := client.CheckHealth(ctx); err != nil {
		// The poller retries on its own, so an unreachable API is not fatal
		slog.Warn("API health check failed", "base_url", client.BaseURL(), "error", err)
	}

	slog.Info("Starting dishly session agent",
		"environment", cfg.Environment,
		"base_url", client.BaseURL(),
		"token_backend", cfg.TokenBackend,
		"warning_window", cfg.WarningWindow(),
		"poll_interval", cfg.PollInterval,
	)

	ctrl := session.NewController(store, client, session.Options{
		Logger:        log,
		WarningWindow: cfg.WarningWindow(),
		PollInterval:  cfg.PollInterval,
	})
	defer ctrl.Close()

	if err := ctrl.Start(ctx); err != nil {
		slog.Error("Failed to start session controller", "error", err)
		os.Exit(1)
	}

	if err := signIn(ctx, ctrl, *loginFlag, *tokenFlag); err != nil {
		slog.Error("Failed to sign in", "error", err)
		os.Exit(1)
	}

	view := console.New(ctrl, os.Stdin, os.Stdout, console.Options{Logger: log})
	if err := view.Run(ctx); err != nil {
		slog.Error("Console stopped with error", "error", err)
	}

	slog.Info("Shutting down dishly session agent")
}

func newTokenStore(ctx context.Context, cfg *config.Agent, log *slog.Logger) (session.TokenStore, func(), error) {
	switch cfg.TokenBackend {
	case config.BackendRedis:
		store := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TokenKey, log)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		slog.Info("Connected to Redis", "addr", cfg.RedisAddr, "key", cfg.TokenKey)
		return store, func() { _ = store.Close() }, nil
	case config.BackendMemory:
		return session.NewMemoryStore(), func() {}, nil
	default:
		store := session.NewFileStore(cfg.TokenFile, log)
		slog.Info("Using token file", "path", store.Path())
		return store, func() {}, nil
	}
}

// resolveBaseURL prefers Consul discovery when a service name is configured.
func resolveBaseURL(ctx context.Context, cfg *config.Agent) (string, error) {
	if cfg.APIServiceName == "" {
		return cfg.APIBaseURL, nil
	}

	client, err := consul.NewClient(cfg.ConsulAddr, cfg.ConsulToken)
	if err != nil {
		return "", fmt.Errorf("create consul client: %w", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()

	baseURL, err := client.ResolveBaseURL(lookupCtx, cfg.APIServiceName, "http")
	if err != nil {
		if cfg.APIBaseURL == "" {
			return "", err
		}
		slog.Warn("Consul lookup failed, using static API address",
			"service", cfg.APIServiceName,
			"fallback", cfg.APIBaseURL,
			"error", err,
		)
		return cfg.APIBaseURL, nil
	}
	slog.Info("Discovered API through Consul", "service", cfg.APIServiceName, "base_url", baseURL)
	return baseURL, nil
}

func signIn(ctx context.Context, ctrl *session.Controller, login, token string) error {
	switch {
	case token != "":
		return ctrl.Adopt(ctx, token)
	case login != "":
		username, password, ok := strings.Cut(login, ":")
		if !ok || username == "" {
			return fmt.Errorf("-login must be user:password")
		}
		return ctrl.Login(ctx, username, password)
	default:
		return nil
	}
}
