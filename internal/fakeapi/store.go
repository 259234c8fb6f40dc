package fakeapi

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrForbidden          = errors.New("forbidden")
)

type account struct {
	user     User
	password string
	// ids of tokens issued to this user that are still honoured
	tokens map[string]struct{}
}

// Store keeps users, connection requests and revoked token ids in memory.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*account
	connections map[string]*Connection
	revoked     map[string]struct{}
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		accounts:    make(map[string]*account),
		connections: make(map[string]*Connection),
		revoked:     make(map[string]struct{}),
		now:         time.Now,
	}
}

// AddUser creates a user with the given password.
func (s *Store) AddUser(username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; ok {
		return nil, ErrUserExists
	}
	acc := &account{
		user: User{
			ID:          uuid.New().String(),
			Username:    username,
			Email:       username + "@dishly.local",
			DisplayName: strings.ToUpper(username[:1]) + username[1:],
		},
		password: password,
		tokens:   make(map[string]struct{}),
	}
	s.accounts[username] = acc

	u := acc.user
	return &u, nil
}

// Seed adds users from "name:password" pairs.
func (s *Store) Seed(pairs []string) error {
	for _, pair := range pairs {
		name, password, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("seed user %q: expected name:password", pair)
		}
		if _, err := s.AddUser(name, password); err != nil && !errors.Is(err, ErrUserExists) {
			return fmt.Errorf("seed user %q: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[username]
	if !ok || acc.password != password {
		return nil, ErrInvalidCredentials
	}
	u := acc.user
	return &u, nil
}

func (s *Store) User(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := acc.user
	return &u, nil
}

// Track remembers an issued token so RevokeUser can find it.
func (s *Store) Track(claims *Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc, ok := s.accounts[claims.Subject]; ok {
		acc.tokens[claims.ID] = struct{}{}
	}
}

// RevokeUser invalidates every token issued to username so far.
func (s *Store) RevokeUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[username]
	if !ok {
		return ErrUserNotFound
	}
	for jti := range acc.tokens {
		s.revoked[jti] = struct{}{}
	}
	clear(acc.tokens)
	return nil
}

// RevokeToken invalidates a single token id.
func (s *Store) RevokeToken(jti string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = struct{}{}
}

// Active reports whether a token with these claims is still honoured.
func (s *Store) Active(claims *Claims) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.revoked[claims.ID]; ok {
		return false
	}
	_, ok := s.accounts[claims.Subject]
	return ok
}

// RequestConnection records a pending request from one user to another.
func (s *Store) RequestConnection(from, to string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requester, ok := s.accounts[from]
	if !ok {
		return nil, fmt.Errorf("requester: %w", ErrUserNotFound)
	}
	if _, ok := s.accounts[to]; !ok {
		return nil, fmt.Errorf("target: %w", ErrUserNotFound)
	}

	conn := &Connection{
		ID:                uuid.New().String(),
		RequesterID:       requester.user.ID,
		RequesterUsername: from,
		TargetUsername:    to,
		Status:            StatusPending,
		CreatedAt:         s.now(),
	}
	s.connections[conn.ID] = conn

	c := *conn
	return &c, nil
}

// Pending lists requests waiting on username, oldest first.
func (s *Store) Pending(username string) []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Connection, 0)
	for _, c := range s.connections {
		if c.TargetUsername == username && c.Status == StatusPending {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b Connection) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// UpdateStatus lets the target of a request change its status.
func (s *Store) UpdateStatus(id, status, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if c.TargetUsername != actor {
		return ErrForbidden
	}
	c.Status = status
	return nil
}

// Remove deletes a request. Either side may remove it.
func (s *Store) Remove(id, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if c.TargetUsername != actor && c.RequesterUsername != actor {
		return ErrForbidden
	}
	delete(s.connections, id)
	return nil
}
