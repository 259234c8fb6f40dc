// Package fakeapi emulates the dishly REST endpoints the session agent
// depends on. Tokens are real HS256 JWTs; everything else lives in memory.
// It backs the api client tests and local runs of the agent.
package fakeapi

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Options configures the emulator.
type Options struct {
	JWTSecret   string
	TokenTTL    time.Duration
	CORSOrigins []string
	SeedUsers   []string
	Logger      *slog.Logger
}

// Emulator bundles the router with its state so tests and the binary can
// reach the store directly.
type Emulator struct {
	Store  *Store
	Issuer *Issuer
	Router *gin.Engine
}

// New builds a seeded emulator.
func New(opts Options) (*Emulator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}

	store := NewStore()
	if err := store.Seed(opts.SeedUsers); err != nil {
		return nil, err
	}
	issuer := NewIssuer(opts.JWTSecret, opts.TokenTTL)
	logger := opts.Logger.With("component", "fakeapi")

	return &Emulator{
		Store:  store,
		Issuer: issuer,
		Router: SetupRouter(NewHandler(store, issuer, logger), store, issuer, opts.CORSOrigins, logger),
	}, nil
}

// SetupRouter configures and returns the emulator router.
func SetupRouter(h *Handler, store *Store, issuer *Issuer, origins []string, logger *slog.Logger) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(logger))
	if len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.Health)

	// Public routes
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
		auth.GET("/users/me", BearerAuthMiddleware(issuer, store), h.Me)
	}

	// Protected routes
	connections := r.Group("/connections")
	connections.Use(BearerAuthMiddleware(issuer, store))
	{
		connections.GET("/requests/details/:username", h.PendingRequests)
		connections.PUT("/update-status", h.UpdateStatus)
		connections.DELETE("/remove-by-id/:id", h.RemoveByID)
	}

	// Development helpers
	dev := r.Group("/dev")
	{
		dev.POST("/connections", h.CreateConnection)
		dev.POST("/revoke/:username", h.RevokeUser)
	}

	return r
}
