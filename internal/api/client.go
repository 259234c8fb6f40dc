// Package api is the HTTP client for the dishly REST endpoints the session
// core depends on.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dishly/internal/session"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 15 * time.Second
	// RequestIDHeader carries a per-request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	KindUnauthorized    ErrorKind = "unauthorized"
	KindNetwork         ErrorKind = "network"
	KindStatus          ErrorKind = "unexpected_status"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Error describes a failed call to the API.
type Error struct {
	Op     string
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "api error"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

// Unwrap exposes the cause together with session.ErrUnauthorized or
// session.ErrTransient so callers can classify with errors.Is.
func (e *Error) Unwrap() []error {
	class := session.ErrTransient
	if e.Kind == KindUnauthorized {
		class = session.ErrUnauthorized
	}
	return []error{e.Err, class}
}

// Client talks to the dishly API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// Options overrides the client's dependencies.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

var _ session.Backend = (*Client)(nil)

// New creates a client rooted at baseURL. A path on baseURL is kept as a
// prefix for every endpoint.
func New(baseURL string, opts Options) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("baseURL %q must be absolute", baseURL)
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    parsed,
		httpClient: client,
		logger:     log.With("component", "api_client"),
	}, nil
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// CheckHealth calls GET /health.
func (c *Client) CheckHealth(ctx context.Context) error {
	const op = "CheckHealth"
	resp, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}
	return nil
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	const op = "Login"
	resp, err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", loginRequest{Username: username, Password: password})
	if err != nil {
		return "", wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	return decodeToken(op, resp)
}

// RefreshToken exchanges token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context, token string) (string, error) {
	const op = "RefreshToken"
	resp, err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", "", refreshRequest{Token: token})
	if err != nil {
		return "", wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	return decodeToken(op, resp)
}

// CurrentUser fetches the user the token belongs to.
func (c *Client) CurrentUser(ctx context.Context, token string) (*session.UserProfile, error) {
	const op = "CurrentUser"
	resp, err := c.do(ctx, http.MethodGet, "/auth/users/me", token, nil)
	if err != nil {
		return nil, wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var body userEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, wrapError(op, KindInvalidResponse, err)
	}
	if len(body.Data) == 0 {
		return nil, &Error{Op: op, Kind: KindInvalidResponse, Status: resp.StatusCode, Err: errors.New("no user in response")}
	}
	user := body.Data[0]
	return &user, nil
}

// Logout tells the server the token is no longer in use.
func (c *Client) Logout(ctx context.Context, token string) error {
	const op = "Logout"
	resp, err := c.do(ctx, http.MethodPost, "/auth/logout", token, nil)
	if err != nil {
		return wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	if !success(resp.StatusCode) {
		return statusError(op, resp)
	}
	return nil
}

// PendingRequests lists connection requests waiting on username.
func (c *Client) PendingRequests(ctx context.Context, token, username string) ([]session.ConnectionRequest, error) {
	const op = "PendingRequests"
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, wrapError(op, KindInvalidResponse, errors.New("username is empty"))
	}
	resp, err := c.do(ctx, http.MethodGet, "/connections/requests/details/"+url.PathEscape(username), token, nil)
	if err != nil {
		return nil, wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var body pendingRequestsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, wrapError(op, KindInvalidResponse, err)
	}
	if body.IncomingRequests == nil {
		return []session.ConnectionRequest{}, nil
	}
	return body.IncomingRequests, nil
}

// AcceptRequest marks a connection request as accepted.
func (c *Client) AcceptRequest(ctx context.Context, token, connectionID string) error {
	const op = "AcceptRequest"
	payload := updateStatusRequest{ConnectionID: connectionID, Status: StatusAccepted}
	resp, err := c.doJSON(ctx, http.MethodPut, "/connections/update-status", token, payload)
	if err != nil {
		return wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	if !success(resp.StatusCode) {
		return statusError(op, resp)
	}
	return nil
}

// RejectRequest removes a connection request.
func (c *Client) RejectRequest(ctx context.Context, token, connectionID string) error {
	const op = "RejectRequest"
	resp, err := c.do(ctx, http.MethodDelete, "/connections/remove-by-id/"+url.PathEscape(connectionID), token, nil)
	if err != nil {
		return wrapError(op, KindNetwork, err)
	}
	defer resp.Body.Close()
	if !success(resp.StatusCode) {
		return statusError(op, resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body io.Reader) (*http.Response, error) {
	full := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, full.String(), body)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("API request failed",
			"method", method,
			"path", path,
			"request_id", requestID,
			"error", err,
		)
		return nil, err
	}

	c.logger.Debug("API request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, err
		}
		body = buf
	}
	return c.do(ctx, method, path, token, body)
}

func decodeToken(op string, resp *http.Response) (string, error) {
	if !success(resp.StatusCode) {
		return "", statusError(op, resp)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", wrapError(op, KindInvalidResponse, err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", &Error{Op: op, Kind: KindInvalidResponse, Status: resp.StatusCode, Err: errors.New("empty access token")}
	}
	return body.AccessToken, nil
}

// statusError builds an Error from a non-success response, using the
// server's {"error": "..."} message when there is one.
func statusError(op string, resp *http.Response) error {
	kind := KindStatus
	if resp.StatusCode == http.StatusUnauthorized {
		kind = KindUnauthorized
	}

	msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &Error{Op: op, Kind: kind, Status: resp.StatusCode, Err: errors.New(msg)}
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func wrapError(op string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
