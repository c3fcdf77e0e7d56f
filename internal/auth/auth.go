// Package auth issues and validates bearer tokens. Room joins and draws are
// not gated by it.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidInput       = errors.New("username and password are required")
)

const DefaultTokenTTL = time.Hour

type Identity struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service interface {
	Register(ctx context.Context, username, password string) (Identity, error)
	IssueToken(ctx context.Context, username, password string) (Token, error)
	ValidateToken(ctx context.Context, token string) (Identity, error)
	RevokeToken(ctx context.Context, token string) error
}

type account struct {
	id   string
	name string
	hash []byte
}

type session struct {
	userID  string
	expires time.Time
}

// MemoryService keeps accounts and tokens in process memory.
type MemoryService struct {
	mu       sync.RWMutex
	accounts map[string]*account // by lowercased username
	byID     map[string]*account
	tokens   map[string]session
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

type Option func(*MemoryService)

func WithTTL(d time.Duration) Option {
	return func(s *MemoryService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *MemoryService) { s.cost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(s *MemoryService) { s.now = now }
}

func NewMemoryService(opts ...Option) *MemoryService {
	s := &MemoryService{
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		tokens:   make(map[string]session),
		ttl:      DefaultTokenTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryService) Register(ctx context.Context, username, password string) (Identity, error) {
	name := strings.TrimSpace(username)
	if name == "" || password == "" {
		return Identity{}, ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(name)
	if _, ok := s.accounts[key]; ok {
		return Identity{}, ErrUserExists
	}
	a := &account{id: uuid.NewString(), name: name, hash: hash}
	s.accounts[key] = a
	s.byID[a.id] = a
	return Identity{UserID: a.id, Username: a.name}, nil
}

func (s *MemoryService) IssueToken(ctx context.Context, username, password string) (Token, error) {
	s.mu.RLock()
	a, ok := s.accounts[strings.ToLower(strings.TrimSpace(username))]
	s.mu.RUnlock()
	if !ok {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	tok := Token{Value: uuid.NewString(), ExpiresAt: s.now().Add(s.ttl)}
	s.mu.Lock()
	s.tokens[tok.Value] = session{userID: a.id, expires: tok.ExpiresAt}
	s.mu.Unlock()
	return tok, nil
}

func (s *MemoryService) ValidateToken(ctx context.Context, token string) (Identity, error) {
	s.mu.RLock()
	sess, ok := s.tokens[token]
	var a *account
	if ok {
		a = s.byID[sess.userID]
	}
	s.mu.RUnlock()

	if !ok || a == nil {
		return Identity{}, ErrUnauthenticated
	}
	if !s.now().Before(sess.expires) {
		s.mu.Lock()
		delete(s.tokens, token)
		s.mu.Unlock()
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: a.id, Username: a.name, ExpiresAt: sess.expires}, nil
}

// RevokeToken is idempotent.
func (s *MemoryService) RevokeToken(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	return nil
}

// PurgeExpired drops expired tokens and returns how many were removed.
func (s *MemoryService) PurgeExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, sess := range s.tokens {
		if !now.Before(sess.expires) {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
