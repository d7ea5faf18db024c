// Package session issues, validates and revokes admin bearer sessions
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/findosh/contactdesk/internal/apperr"
	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/storage"
)

// TokenBytes is the entropy of a session token
const TokenBytes = 32

// TokenLength is the length of an encoded token
var TokenLength = base64.RawURLEncoding.EncodedLen(TokenBytes)

// Store is the persistence the manager needs
type Store interface {
	Replace(ctx context.Context, s *models.Session) error
	FindByTokenHash(ctx context.Context, hash string) (*models.Session, error)
	DeleteByTokenHash(ctx context.Context, hash string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager handles session lifecycle
type Manager struct {
	store   Store
	clock   clock.Clock
	logger  *zap.Logger
	timeout time.Duration
}

// NewManager creates a session manager
func NewManager(store Store, timeout time.Duration, clk clock.Clock, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		store:   store,
		clock:   clk,
		logger:  logging.OrNop(logger).Named("session"),
		timeout: timeout,
	}
}

// Create issues a new session for identity, replacing any existing one.
// The returned session is the only place the raw token appears.
func (m *Manager) Create(ctx context.Context, identity string, client models.ClientInfo) (*models.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	s := &models.Session{
		ID:        uuid.New(),
		Identity:  identity,
		Token:     token,
		TokenHash: HashToken(token),
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.timeout),
	}

	if err := m.store.Replace(ctx, s); err != nil {
		m.logger.Error("failed to create session", zap.Error(err))
		return nil, apperr.Storage(err)
	}
	return s, nil
}

// Validate returns the session for token, or nil when there is none.
// An expired session is deleted on access.
func (m *Manager) Validate(ctx context.Context, token string) (*models.Session, error) {
	if len(token) != TokenLength {
		return nil, nil
	}

	hash := HashToken(token)
	s, err := m.store.FindByTokenHash(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		m.logger.Error("failed to load session", zap.Error(err))
		return nil, apperr.Storage(err)
	}

	if s.IsExpired(m.clock.Now()) {
		if _, err := m.store.DeleteByTokenHash(ctx, hash); err != nil {
			m.logger.Warn("failed to delete expired session", zap.Error(err))
		}
		return nil, nil
	}
	return s, nil
}

// Destroy deletes the session and reports whether one existed
func (m *Manager) Destroy(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	ok, err := m.store.DeleteByTokenHash(ctx, HashToken(token))
	if err != nil {
		m.logger.Error("failed to destroy session", zap.Error(err))
		return false, apperr.Storage(err)
	}
	return ok, nil
}

// CleanupExpired deletes every session past its expiry
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}

// HashToken is the at-rest form of a token
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
