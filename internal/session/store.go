// Package session persists the agent's bearer token between runs.
package session

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"sozuri-connect/internal/chatapi"
	"sozuri-connect/internal/logger"
)

// TokenKey is the fixed key the bearer token lives under.
const TokenKey = "sozuri_auth_token"

// TokenStore is a Pebble-backed chatapi.TokenSource.
type TokenStore struct {
	db  *pebble.DB
	log *logger.Logger
}

// Open opens (or creates) the store at path.
func Open(path string, log *logger.Logger) (*TokenStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("session")

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("pebble open failed")
		return nil, fmt.Errorf("open token store: %w", err)
	}
	log.Debug().Str("path", path).Msg("token store opened")
	return &TokenStore{db: db, log: log}, nil
}

func (s *TokenStore) Close() error {
	return s.db.Close()
}

// Token returns the stored token or chatapi.ErrNoToken.
func (s *TokenStore) Token() (string, error) {
	v, closer, err := s.db.Get([]byte(TokenKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", chatapi.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	defer closer.Close()
	return string(v), nil
}

func (s *TokenStore) SetToken(token string) error {
	if token == "" {
		return s.Clear()
	}
	if err := s.db.Set([]byte(TokenKey), []byte(token), pebble.Sync); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.log.Info().Msg("token saved")
	return nil
}

func (s *TokenStore) Clear() error {
	if err := s.db.Delete([]byte(TokenKey), pebble.Sync); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	s.log.Info().Msg("token cleared")
	return nil
}

var _ chatapi.TokenSource = (*TokenStore)(nil)
