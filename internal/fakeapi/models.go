package fakeapi

import "time"

// Connection statuses.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type Connection struct {
	ID                string    `json:"connection_id"`
	RequesterID       string    `json:"requester_id"`
	RequesterUsername string    `json:"requester_username"`
	TargetUsername    string    `json:"-"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	Token string `json:"token" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type UpdateStatusRequest struct {
	ConnectionID string `json:"connection_id" binding:"required"`
	Status       string `json:"status" binding:"required,oneof=accepted rejected"`
}

type CreateConnectionRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}
