package api

import "dishly/internal/session"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// userEnvelope is the shape of GET /auth/users/me; data holds one user.
type userEnvelope struct {
	Data []session.UserProfile `json:"data"`
}

type pendingRequestsResponse struct {
	IncomingRequests []session.ConnectionRequest `json:"incoming_requests"`
}

type updateStatusRequest struct {
	ConnectionID string `json:"connection_id"`
	Status       string `json:"status"`
}

// StatusAccepted is the connection status sent when accepting a request.
const StatusAccepted = "accepted"
