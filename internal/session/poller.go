package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultPollInterval is how often the stored token is re-validated.
const DefaultPollInterval = 60 * time.Second

// UserFetcher is the part of the backend the poller needs.
type UserFetcher interface {
	CurrentUser(ctx context.Context, token string) (*UserProfile, error)
	PendingRequests(ctx context.Context, token, username string) ([]ConnectionRequest, error)
}

// SignalKind is the outcome of one liveness check.
type SignalKind string

const (
	// SignalLoggedOut means no token is stored.
	SignalLoggedOut SignalKind = "logged_out"
	// SignalExpiryPending means the stored token is expired but still present.
	SignalExpiryPending SignalKind = "expiry_pending"
	// SignalForcedLogout means the server rejected the token.
	SignalForcedLogout SignalKind = "forced_logout"
	// SignalUserRefreshed carries a freshly fetched user.
	SignalUserRefreshed SignalKind = "user_refreshed"
)

// Signal is delivered to the poller's handler after a check.
type Signal struct {
	Kind  SignalKind
	Token string
	User  *UserProfile
	// Requests is only meaningful when RequestsFresh is set; a failed
	// best-effort fetch leaves the previous list in place.
	Requests      []ConnectionRequest
	RequestsFresh bool
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Poller periodically verifies that the stored token still grants access.
// At most one check runs at a time; ticks that arrive while one is in flight
// are skipped rather than queued.
type Poller struct {
	store    TokenStore
	expiry   *ExpiryClock
	users    UserFetcher
	handle   func(Signal)
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	inFlight atomic.Bool
	skipped  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller. handle receives every signal in the
// order checks complete.
func NewPoller(store TokenStore, expiry *ExpiryClock, users UserFetcher, handle func(Signal), opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Poller{
		store:    store,
		expiry:   expiry,
		users:    users,
		handle:   handle,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "session_poller"),
	}
}

// Start runs a check immediately and then on every interval.
// Calling Start on a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := p.clock.NewTicker(p.interval)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.loop(ctx, ticker, done)
	p.logger.Debug("Poller started", "interval", p.interval)
}

// Stop cancels the loop and any in-flight fetch. It does not wait for an
// in-flight check, so it is safe to call from the signal handler.
// Stopping a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Debug("Poller stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Skipped returns how many ticks were skipped because a check was in flight.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

// CheckOnce runs one check now and delivers its signal. It returns
// ErrCheckInFlight without doing anything if another check is running.
func (p *Poller) CheckOnce(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrCheckInFlight
	}
	defer p.inFlight.Store(false)

	if sig, ok := p.check(ctx); ok {
		p.handle(sig)
	}
	return nil
}

func (p *Poller) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug("Skipping poll tick, previous check still in flight")
		return
	}

	go func() {
		defer p.inFlight.Store(false)

		sig, ok := p.check(ctx)
		// Drop results of a check that outlived its poller
		if !ok || ctx.Err() != nil {
			return
		}
		p.handle(sig)
	}()
}

func (p *Poller) check(ctx context.Context) (Signal, bool) {
	token, ok := p.store.Get(ctx)
	if !ok {
		return Signal{Kind: SignalLoggedOut}, true
	}

	if p.expiry.IsExpired(token) {
		return Signal{Kind: SignalExpiryPending, Token: token}, true
	}

	user, err := p.users.CurrentUser(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			p.logger.Warn("Server rejected session token", "error", err)
			return Signal{Kind: SignalForcedLogout, Token: token}, true
		}
		p.logger.Warn("Session check failed, retrying next tick", "error", err)
		return Signal{}, false
	}

	sig := Signal{Kind: SignalUserRefreshed, Token: token, User: user}
	if user.Username == "" {
		return sig, true
	}

	requests, err := p.users.PendingRequests(ctx, token, user.Username)
	if err != nil {
		p.logger.Warn("Failed to fetch pending connection requests", "username", user.Username, "error", err)
		return sig, true
	}
	sig.Requests = requests
	sig.RequestsFresh = true
	return sig, true
}
