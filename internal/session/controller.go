package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// DefaultEventBuffer is the capacity of the controller's event channel.
const DefaultEventBuffer = 32

// Backend is the set of collaborator endpoints the controller calls.
type Backend interface {
	UserFetcher
	Login(ctx context.Context, username, password string) (string, error)
	RefreshToken(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, token string) error
	AcceptRequest(ctx context.Context, token, connectionID string) error
	RejectRequest(ctx context.Context, token, connectionID string) error
}

// Options configures a Controller. Zero values use the defaults.
type Options struct {
	Clock         clockwork.Clock
	Logger        *slog.Logger
	WarningWindow time.Duration
	PollInterval  time.Duration
	EventBuffer   int
}

// Controller owns the in-memory session and is the only thing views talk to.
// It never holds its mutex while calling the clock, poller, store or backend.
type Controller struct {
	store   TokenStore
	backend Backend
	expiry  *ExpiryClock
	poller  *Poller
	now     clockwork.Clock
	window  time.Duration
	logger  *slog.Logger
	events  chan Event

	refreshGroup singleflight.Group

	mu    sync.Mutex
	token string
	state Snapshot
	// gen is bumped whenever the session ends so late results from calls
	// started against it can be dropped.
	gen       uint64
	closed    bool
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewController wires a controller around store and backend.
func NewController(store TokenStore, backend Backend, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WarningWindow <= 0 {
		opts.WarningWindow = DefaultWarningWindow
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	c := &Controller{
		store:   store,
		backend: backend,
		expiry:  NewExpiryClock(opts.Clock),
		now:     opts.Clock,
		window:  opts.WarningWindow,
		logger:  opts.Logger.With("component", "session_controller"),
		events:  make(chan Event, opts.EventBuffer),
	}
	c.poller = NewPoller(store, c.expiry, backend, c.handleSignal, PollerOptions{
		Interval: opts.PollInterval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	})
	return c
}

// Start loads a stored token, if any, arms the expiry warning and starts
// polling. It also subscribes to slot changes made by other processes
// when the store supports it.
func (c *Controller) Start(ctx context.Context) error {
	c.startWatch()

	token, ok := c.store.Get(ctx)
	if !ok {
		c.logger.Info("No stored session")
		return nil
	}

	c.logger.Info("Resuming stored session")
	c.activate(token, true)
	return nil
}

// Login exchanges credentials for a token and adopts it.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	token, err := c.backend.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return c.Adopt(ctx, token)
}

// Adopt stores a token obtained elsewhere (a login form or an OAuth
// redirect) and starts a session with it.
func (c *Controller) Adopt(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("adopt: %w", ErrMalformedToken)
	}
	if err := c.store.Set(ctx, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	c.activate(token, true)
	c.logger.Info("Session started")
	return nil
}

// State returns a copy of the current session.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	s.PendingRequests = slices.Clone(s.PendingRequests)
	return s
}

// Events returns the channel views consume. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Refresh exchanges the current token for a new one. On failure the session
// is logged out and the error returned. Concurrent calls share one request.
func (c *Controller) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Controller) refresh(ctx context.Context) error {
	c.mu.Lock()
	token, gen := c.token, c.gen
	c.mu.Unlock()

	if token == "" {
		return ErrNoSession
	}

	fresh, err := c.backend.RefreshToken(ctx, token)
	if err != nil {
		if !c.sameSession(gen, token) {
			return fmt.Errorf("refresh session: %w", ErrNoSession)
		}
		c.logger.Warn("Token refresh failed, logging out", "error", err)
		_ = c.Logout(ctx)
		return fmt.Errorf("refresh session: %w", err)
	}

	if !c.sameSession(gen, token) {
		c.logger.Info("Session ended during refresh, discarding new token")
		return fmt.Errorf("refresh session: %w", ErrNoSession)
	}

	if err := c.store.Set(ctx, fresh); err != nil {
		return fmt.Errorf("failed to store refreshed token: %w", err)
	}

	if !c.promote(gen, token, fresh) {
		c.logger.Info("Session ended during refresh, discarding new token")
		// Logout may have cleared the slot before our Set landed.
		if current, ok := c.store.Get(ctx); ok && current == fresh {
			if err := c.store.Clear(ctx); err != nil {
				c.logger.Error("Failed to clear discarded token", "error", err)
			}
		}
		return fmt.Errorf("refresh session: %w", ErrNoSession)
	}

	c.logger.Info("Session refreshed")
	return nil
}

// sameSession reports whether the session that held token at generation gen
// is still the active one.
func (c *Controller) sameSession(gen uint64, token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Authenticated && c.gen == gen && c.token == token
}

// promote swaps from for fresh if the session has not ended since gen.
// The slot watch may already have adopted fresh, which also counts.
func (c *Controller) promote(gen uint64, from, fresh string) bool {
	exp, err := DecodeExpiry(fresh)
	if err != nil {
		c.logger.Warn("Refreshed token is malformed, treating as expired", "error", err)
	}

	c.mu.Lock()
	if !c.state.Authenticated || c.gen != gen || (c.token != from && c.token != fresh) {
		c.mu.Unlock()
		return false
	}
	if c.token != fresh {
		c.state.PendingWarning = false
	}
	c.token = fresh
	c.state.ExpiresAt = exp
	c.mu.Unlock()

	c.expiry.Arm(exp, c.window, func() { c.raiseWarning(fresh) })

	// A logout that raced the Arm above has already disarmed, so undo ours.
	c.mu.Lock()
	ended := !c.state.Authenticated
	c.mu.Unlock()
	if ended {
		c.expiry.Disarm()
		return false
	}
	return true
}

// Logout ends the session. The server call is best effort. Calling Logout
// again has no further effect and does not navigate twice.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	wasActive := c.state.Authenticated
	c.resetLocked(c.state.ForcedLogout)
	if wasActive {
		c.emitLocked(Event{Type: EventNavigate, Route: RouteHome})
	}
	c.mu.Unlock()

	c.expiry.Disarm()
	c.poller.Stop()

	if token != "" {
		if err := c.backend.Logout(ctx, token); err != nil {
			c.logger.Warn("Server logout failed", "error", err)
		}
	}
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear stored token", "error", err)
		return fmt.Errorf("failed to clear token: %w", err)
	}

	if wasActive {
		c.logger.Info("Logged out")
	}
	return nil
}

// RespondToConnectionRequest accepts or rejects a pending request. A failure
// leaves the request in place, emits a notice and never touches auth state.
func (c *Controller) RespondToConnectionRequest(ctx context.Context, id string, d Decision) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		return ErrNoSession
	}

	var err error
	switch d {
	case Accept:
		err = c.backend.AcceptRequest(ctx, token, id)
	case Reject:
		err = c.backend.RejectRequest(ctx, token, id)
	default:
		return fmt.Errorf("unknown decision %d", d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Connection request action failed", "connection_id", id, "decision", d.String(), "error", err)
		c.emitLocked(Event{
			Type: EventNotice,
			Notice: &Notice{
				Kind:    NoticeUserActionFailed,
				Message: fmt.Sprintf("Could not %s the connection request. Please try again.", d),
			},
		})
		return fmt.Errorf("%w: %s %s: %w", ErrUserActionFailed, d, id, err)
	}

	c.state.PendingRequests = slices.DeleteFunc(c.state.PendingRequests, func(r ConnectionRequest) bool {
		return r.ID == id
	})
	return nil
}

// DismissWarning lowers the expiry warning flag without refreshing.
func (c *Controller) DismissWarning() {
	c.mu.Lock()
	c.state.PendingWarning = false
	c.mu.Unlock()
}

// AcknowledgeForcedLogout lowers the forced logout flag.
func (c *Controller) AcknowledgeForcedLogout() {
	c.mu.Lock()
	c.state.ForcedLogout = false
	c.mu.Unlock()
}

// Close tears the controller down without touching the stored token.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stop, done := c.stopWatch, c.watchDone
	close(c.events)
	c.mu.Unlock()

	c.expiry.Disarm()
	c.poller.Stop()
	if stop != nil {
		stop()
		<-done
	}
}

// activate makes token the current one, arms the warning and optionally
// (re)starts polling so the user is fetched right away.
func (c *Controller) activate(token string, restartPoller bool) {
	exp, err := DecodeExpiry(token)
	if err != nil {
		c.logger.Warn("Stored token is malformed, treating as expired", "error", err)
	}

	c.mu.Lock()
	if c.token != token {
		c.state.PendingWarning = false
	}
	if !c.state.Authenticated {
		c.state.User = nil
		c.state.PendingRequests = nil
	}
	c.token = token
	c.state.Authenticated = true
	c.state.ExpiresAt = exp
	c.state.ForcedLogout = false
	c.mu.Unlock()

	// A malformed token has a zero expiry, so this warns immediately.
	c.expiry.Arm(exp, c.window, func() { c.raiseWarning(token) })

	if restartPoller {
		c.poller.Stop()
		c.poller.Start()
	}
}

func (c *Controller) raiseWarning(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Authenticated || c.token != token || c.state.PendingWarning {
		return
	}
	c.state.PendingWarning = true
	c.emitLocked(Event{Type: EventExpiryWarning})
	c.logger.Info("Session is about to expire", "expires_at", c.state.ExpiresAt)
}

func (c *Controller) handleSignal(s Signal) {
	switch s.Kind {
	case SignalLoggedOut:
		c.endLocally("token no longer stored")
	case SignalExpiryPending:
		c.raiseWarning(s.Token)
	case SignalForcedLogout:
		c.forceLogout(s.Token)
	case SignalUserRefreshed:
		c.mu.Lock()
		if c.state.Authenticated && c.token == s.Token {
			c.state.User = s.User
			if s.RequestsFresh {
				c.state.PendingRequests = s.Requests
			}
			c.emitLocked(Event{Type: EventUserUpdated})
		}
		c.mu.Unlock()
	}
}

func (c *Controller) forceLogout(token string) {
	c.mu.Lock()
	if !c.state.Authenticated || c.token != token {
		c.mu.Unlock()
		return
	}
	c.resetLocked(true)
	c.emitLocked(Event{Type: EventForcedLogout})
	c.emitLocked(Event{Type: EventNavigate, Route: RouteHome})
	c.mu.Unlock()

	c.logger.Warn("Session revoked by server, logging out")
	c.expiry.Disarm()
	c.poller.Stop()

	ctx := context.Background()
	// Another view may have stored a new token in the meantime.
	if current, ok := c.store.Get(ctx); ok && current == token {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Error("Failed to clear revoked token", "error", err)
		}
	}
}

// endLocally ends an active session without calling the server.
func (c *Controller) endLocally(reason string) {
	c.mu.Lock()
	if !c.state.Authenticated {
		c.mu.Unlock()
		return
	}
	c.resetLocked(c.state.ForcedLogout)
	c.emitLocked(Event{Type: EventNavigate, Route: RouteHome})
	c.mu.Unlock()

	c.logger.Info("Session ended", "reason", reason)
	c.expiry.Disarm()
	c.poller.Stop()
}

func (c *Controller) startWatch() {
	n, ok := c.store.(Notifier)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.stopWatch != nil || c.closed {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopWatch, c.watchDone = cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := n.Watch(ctx, c.onStoreChange); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("Token slot watch stopped", "error", err)
		}
	}()
}

func (c *Controller) onStoreChange(ch Change) {
	switch ch.Op {
	case ChangeCleared:
		c.endLocally("token cleared by another view")
	case ChangeSet:
		if ch.Token == "" {
			return
		}
		c.mu.Lock()
		same := c.token == ch.Token
		active := c.state.Authenticated
		c.mu.Unlock()
		if same {
			return
		}
		c.logger.Info("Token replaced by another view")
		c.activate(ch.Token, !active)
	}
}

func (c *Controller) resetLocked(forced bool) {
	c.gen++
	c.token = ""
	c.state = Snapshot{ForcedLogout: forced}
}

func (c *Controller) emitLocked(e Event) {
	if c.closed {
		return
	}
	e.At = c.now.Now()
	select {
	case c.events <- e:
	default:
		c.logger.Warn("Event buffer full, dropping event", "type", e.Type)
	}
}
