package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dishly/internal/logger"

	"github.com/jonboulle/clockwork"
)

type fakeUsers struct {
	currentUserFunc     func(ctx context.Context, token string) (*UserProfile, error)
	pendingRequestsFunc func(ctx context.Context, token, username string) ([]ConnectionRequest, error)
	currentUserCalls    atomic.Int32
}

func (f *fakeUsers) CurrentUser(ctx context.Context, token string) (*UserProfile, error) {
	f.currentUserCalls.Add(1)
	if f.currentUserFunc != nil {
		return f.currentUserFunc(ctx, token)
	}
	return &UserProfile{ID: "u-1", Username: "alice"}, nil
}

func (f *fakeUsers) PendingRequests(ctx context.Context, token, username string) ([]ConnectionRequest, error) {
	if f.pendingRequestsFunc != nil {
		return f.pendingRequestsFunc(ctx, token, username)
	}
	return nil, nil
}

type signalRecorder struct {
	mu      sync.Mutex
	signals []Signal
	ch      chan Signal
}

func newSignalRecorder() *signalRecorder {
	return &signalRecorder{ch: make(chan Signal, 16)}
}

func (r *signalRecorder) handle(s Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *signalRecorder) next(t *testing.T) Signal {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}
	}
}

func newTestPoller(store TokenStore, users UserFetcher, rec *signalRecorder, fc *clockwork.FakeClock) *Poller {
	return NewPoller(store, NewExpiryClock(fc), users, rec.handle, PollerOptions{
		Interval: time.Minute,
		Clock:    fc,
		Logger:   logger.Discard(),
	})
}

func TestPoller_CheckOnce(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	valid := mintToken(t, "alice", epoch.Add(time.Hour))
	expired := mintToken(t, "alice", epoch.Add(-time.Minute))

	tests := []struct {
		name      string
		token     string
		users     *fakeUsers
		want      SignalKind
		wantCalls int32
		noSignal  bool
	}{
		{
			name:      "no token",
			users:     &fakeUsers{},
			want:      SignalLoggedOut,
			wantCalls: 0,
		},
		{
			name:      "expired token",
			token:     expired,
			users:     &fakeUsers{},
			want:      SignalExpiryPending,
			wantCalls: 0,
		},
		{
			name:      "malformed token",
			token:     "garbage",
			users:     &fakeUsers{},
			want:      SignalExpiryPending,
			wantCalls: 0,
		},
		{
			name:      "valid token",
			token:     valid,
			users:     &fakeUsers{},
			want:      SignalUserRefreshed,
			wantCalls: 1,
		},
		{
			name:  "unauthorized",
			token: valid,
			users: &fakeUsers{currentUserFunc: func(ctx context.Context, token string) (*UserProfile, error) {
				return nil, ErrUnauthorized
			}},
			want:      SignalForcedLogout,
			wantCalls: 1,
		},
		{
			name:  "transient failure",
			token: valid,
			users: &fakeUsers{currentUserFunc: func(ctx context.Context, token string) (*UserProfile, error) {
				return nil, ErrTransient
			}},
			noSignal:  true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			if tt.token != "" {
				if err := store.Set(ctx, tt.token); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}
			rec := newSignalRecorder()
			p := newTestPoller(store, tt.users, rec, fc)

			if err := p.CheckOnce(ctx); err != nil {
				t.Fatalf("CheckOnce: %v", err)
			}

			if tt.noSignal {
				if len(rec.signals) != 0 {
					t.Errorf("Expected no signal, got %+v", rec.signals)
				}
			} else {
				if len(rec.signals) != 1 {
					t.Fatalf("Expected 1 signal, got %d", len(rec.signals))
				}
				if rec.signals[0].Kind != tt.want {
					t.Errorf("Expected %s, got %s", tt.want, rec.signals[0].Kind)
				}
			}
			if got := tt.users.currentUserCalls.Load(); got != tt.wantCalls {
				t.Errorf("Expected %d CurrentUser calls, got %d", tt.wantCalls, got)
			}
			if tt.token != "" {
				if _, ok := store.Get(ctx); !ok {
					t.Error("Poller must never clear the token")
				}
			}
		})
	}
}

func TestPoller_UserRefreshedCarriesRequests(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	store := NewMemoryStore()
	_ = store.Set(ctx, mintToken(t, "alice", epoch.Add(time.Hour)))

	var gotUsername string
	users := &fakeUsers{
		pendingRequestsFunc: func(ctx context.Context, token, username string) ([]ConnectionRequest, error) {
			gotUsername = username
			return []ConnectionRequest{{ID: "c-1", RequesterUsername: "bob"}}, nil
		},
	}
	rec := newSignalRecorder()
	p := newTestPoller(store, users, rec, fc)

	if err := p.CheckOnce(ctx); err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}

	sig := rec.next(t)
	if gotUsername != "alice" {
		t.Errorf("Expected requests fetched for alice, got %q", gotUsername)
	}
	if !sig.RequestsFresh || len(sig.Requests) != 1 || sig.Requests[0].ID != "c-1" {
		t.Errorf("Unexpected requests in signal: %+v", sig)
	}
}

func TestPoller_RequestsFailureIsNotFresh(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	store := NewMemoryStore()
	_ = store.Set(ctx, mintToken(t, "alice", epoch.Add(time.Hour)))

	users := &fakeUsers{
		pendingRequestsFunc: func(ctx context.Context, token, username string) ([]ConnectionRequest, error) {
			return nil, errors.New("boom")
		},
	}
	rec := newSignalRecorder()
	p := newTestPoller(store, users, rec, fc)

	_ = p.CheckOnce(ctx)

	sig := rec.next(t)
	if sig.Kind != SignalUserRefreshed {
		t.Fatalf("Expected user refresh, got %s", sig.Kind)
	}
	if sig.RequestsFresh {
		t.Error("Failed request fetch must not be reported as fresh")
	}
}

func TestPoller_SlowFetchNeverOverlaps(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	store := NewMemoryStore()
	_ = store.Set(ctx, mintToken(t, "alice", epoch.Add(24*time.Hour)))

	release := make(chan struct{})
	var inside, maxInside atomic.Int32
	users := &fakeUsers{
		currentUserFunc: func(ctx context.Context, token string) (*UserProfile, error) {
			n := inside.Add(1)
			defer inside.Add(-1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			<-release
			return &UserProfile{Username: "alice"}, nil
		},
	}
	rec := newSignalRecorder()
	p := newTestPoller(store, users, rec, fc)

	p.Start()
	defer p.Stop()

	// Immediate check blocks inside the fetch
	waitFor(t, func() bool { return users.currentUserCalls.Load() == 1 })

	fc.Advance(time.Minute)
	waitFor(t, func() bool { return p.Skipped() == 1 })
	fc.Advance(time.Minute)
	waitFor(t, func() bool { return p.Skipped() == 2 })

	if err := p.CheckOnce(ctx); !errors.Is(err, ErrCheckInFlight) {
		t.Errorf("Expected ErrCheckInFlight, got %v", err)
	}

	close(release)
	if sig := rec.next(t); sig.Kind != SignalUserRefreshed {
		t.Fatalf("Expected user refresh, got %s", sig.Kind)
	}

	if got := users.currentUserCalls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 fetch across the slow check, got %d", got)
	}
	if maxInside.Load() != 1 {
		t.Errorf("Expected no overlapping fetches, max concurrent was %d", maxInside.Load())
	}

	// The next tick after completion checks again
	waitFor(t, func() bool { return !p.inFlight.Load() })
	fc.Advance(time.Minute)
	waitFor(t, func() bool { return users.currentUserCalls.Load() == 2 })
}

func TestPoller_StopIsIdempotentAndDropsSignals(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	store := NewMemoryStore()
	_ = store.Set(ctx, mintToken(t, "alice", epoch.Add(time.Hour)))

	started := make(chan struct{})
	users := &fakeUsers{
		currentUserFunc: func(ctx context.Context, token string) (*UserProfile, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	rec := newSignalRecorder()
	p := newTestPoller(store, users, rec, fc)

	p.Start()
	p.Start()
	<-started

	p.Stop()
	p.Stop()

	if p.Running() {
		t.Error("Expected poller to be stopped")
	}
	waitFor(t, func() bool { return !p.inFlight.Load() })
	if len(rec.ch) != 0 {
		t.Errorf("Expected no signals after stop, got %d", len(rec.ch))
	}
}

func TestPoller_StopFromHandler(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	store := NewMemoryStore()
	_ = store.Set(ctx, mintToken(t, "alice", epoch.Add(time.Hour)))

	users := &fakeUsers{currentUserFunc: func(ctx context.Context, token string) (*UserProfile, error) {
		return nil, ErrUnauthorized
	}}

	var p *Poller
	handled := make(chan struct{})
	p = NewPoller(store, NewExpiryClock(fc), users, func(s Signal) {
		p.Stop()
		close(handled)
	}, PollerOptions{Interval: time.Minute, Clock: fc, Logger: logger.Discard()})

	p.Start()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop from inside the handler deadlocked")
	}
	if p.Running() {
		t.Error("Expected poller to be stopped")
	}
}
