package db

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sozuri-connect/internal/models"
)

const (
	apiKeyScheme    = "szk_"
	apiKeyPrefixLen = 12
)

// ErrInvalidAPIKey is returned when a presented key does not match any stored key.
var ErrInvalidAPIKey = errors.New("invalid api key")

// generateAPIKey returns a raw key and the lookup prefix stored alongside its hash.
func generateAPIKey() (key, prefix string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	key = apiKeyScheme + hex.EncodeToString(buf)
	return key, key[:apiKeyPrefixLen], nil
}

func scanAPIKey(row rowScanner, extra ...interface{}) (*models.APIKey, error) {
	var k models.APIKey
	var lastUsed sql.NullTime
	dest := append([]interface{}{&k.ID, &k.Name, &k.Prefix, &k.CreatedAt, &lastUsed}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

// CreateAPIKey stores a new key. The raw key is only returned here.
func (db *DB) CreateAPIKey(name string) (*models.APIKey, error) {
	start := time.Now()
	key, prefix, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}
	k := &models.APIKey{ID: newID("key"), Name: name, Prefix: prefix, Key: key, CreatedAt: now()}
	_, err = db.Exec("INSERT INTO api_keys (id, name, prefix, hash, created_at) VALUES (?, ?, ?, ?, ?)",
		k.ID, k.Name, k.Prefix, string(hash), k.CreatedAt)
	db.log.LogDbOperation("create_api_key", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to save api key: %w", err)
	}
	return k, nil
}

func (db *DB) ListAPIKeys() ([]models.APIKey, error) {
	rows, err := db.Query("SELECT id, name, prefix, created_at, last_used_at FROM api_keys ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	keys := []models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (db *DB) DeleteAPIKey(id string) error {
	res, err := db.Exec("DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return requireRow(res, "api key", id)
}

// RegenerateAPIKey replaces the secret of an existing key. The old key stops
// working immediately.
func (db *DB) RegenerateAPIKey(id string) (*models.APIKey, error) {
	k, err := scanAPIKey(db.QueryRow("SELECT id, name, prefix, created_at, last_used_at FROM api_keys WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "api key", id)
	}
	key, prefix, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}
	if _, err := db.Exec("UPDATE api_keys SET prefix = ?, hash = ?, last_used_at = NULL WHERE id = ?", prefix, string(hash), id); err != nil {
		return nil, fmt.Errorf("failed to update api key: %w", err)
	}
	k.Prefix, k.Key, k.LastUsedAt = prefix, key, nil
	return k, nil
}

// VerifyAPIKey looks the key up by prefix, checks it against the stored hash
// and records its use.
func (db *DB) VerifyAPIKey(key string) (*models.APIKey, error) {
	if !strings.HasPrefix(key, apiKeyScheme) || len(key) <= apiKeyPrefixLen {
		return nil, ErrInvalidAPIKey
	}
	var hash string
	k, err := scanAPIKey(db.QueryRow("SELECT id, name, prefix, created_at, last_used_at, hash FROM api_keys WHERE prefix = ?",
		key[:apiKeyPrefixLen]), &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return nil, ErrInvalidAPIKey
	}
	ts := now()
	if _, err := db.Exec("UPDATE api_keys SET last_used_at = ? WHERE id = ?", ts, k.ID); err != nil {
		db.log.Warn().Err(err).Str("key_id", k.ID).Msg("failed to record api key use")
	}
	k.LastUsedAt = &ts
	return k, nil
}
