package fakeapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler serves the emulated endpoints.
type Handler struct {
	store  *Store
	issuer *Issuer
	logger *slog.Logger
}

func NewHandler(store *Store, issuer *Issuer, logger *slog.Logger) *Handler {
	return &Handler{store: store, issuer: issuer, logger: logger}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.respondWithToken(c, user)
}

// Refresh handles POST /auth/refresh. The old token is revoked.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := h.issuer.VerifyForRefresh(req.Token)
	if err != nil || !h.store.Active(claims) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token cannot be refreshed"})
		return
	}

	user, err := h.store.User(claims.Subject)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token cannot be refreshed"})
		return
	}

	h.store.RevokeToken(claims.ID)
	h.respondWithToken(c, user)
}

// Me handles GET /auth/users/me.
func (h *Handler) Me(c *gin.Context) {
	user, err := h.store.User(c.GetString(ctxUsername))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": []User{*user}})
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"message": "already logged out"})
		return
	}

	claims, err := h.issuer.VerifyForRefresh(token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"message": "already logged out"})
		return
	}

	h.store.RevokeToken(claims.ID)
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// PendingRequests handles GET /connections/requests/details/:username.
func (h *Handler) PendingRequests(c *gin.Context) {
	username := c.Param("username")
	if username != c.GetString(ctxUsername) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"incoming_requests": h.store.Pending(username)})
}

// UpdateStatus handles PUT /connections/update-status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateStatus(req.ConnectionID, req.Status, c.GetString(ctxUsername)); err != nil {
		h.connectionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// RemoveByID handles DELETE /connections/remove-by-id/:id.
func (h *Handler) RemoveByID(c *gin.Context) {
	if err := h.store.Remove(c.Param("id"), c.GetString(ctxUsername)); err != nil {
		h.connectionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// CreateConnection handles POST /dev/connections.
func (h *Handler) CreateConnection(c *gin.Context) {
	var req CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.store.RequestConnection(req.From, req.To)
	if err != nil {
		h.connectionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, conn)
}

// RevokeUser handles POST /dev/revoke/:username so forced logout can be
// triggered by hand.
func (h *Handler) RevokeUser(c *gin.Context) {
	username := c.Param("username")
	if err := h.store.RevokeUser(username); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	h.logger.Info("Revoked all tokens", "username", username)
	c.JSON(http.StatusOK, gin.H{"message": "revoked"})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "fakeapi",
	})
}

func (h *Handler) respondWithToken(c *gin.Context, user *User) {
	token, claims, err := h.issuer.Issue(user)
	if err != nil {
		h.logger.Error("Failed to issue token", "username", user.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	h.store.Track(claims)

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.issuer.TTL().Seconds()),
	})
}

func (h *Handler) connectionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed"})
	}
}
