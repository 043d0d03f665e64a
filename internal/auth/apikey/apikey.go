// Package apikey validates the keys that guard the administrative endpoints
// (rebuild, cache invalidation). Keys come from configuration and are held
// only as SHA-256 hashes; presented keys are hashed and compared in constant
// time.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var ErrInvalidKey = errors.New("invalid api key")

// KeyInfo identifies a validated key without exposing it.
type KeyInfo struct {
	ID        string `json:"id"`
	RateLimit int    `json:"rate_limit"`
}

type Validator struct {
	hashes    [][]byte
	rateLimit int
	logger    *slog.Logger
}

// NewValidator hashes rawKeys. Blank entries are ignored. rateLimit is the
// per-minute budget attached to every key.
func NewValidator(rawKeys []string, rateLimit int) *Validator {
	v := &Validator{
		rateLimit: rateLimit,
		logger:    slog.Default().With("component", "apikey-validator"),
	}
	for _, k := range rawKeys {
		if k = strings.TrimSpace(k); k == "" {
			continue
		}
		sum := sha256.Sum256([]byte(k))
		v.hashes = append(v.hashes, sum[:])
	}
	return v
}

// Enabled reports whether any key is configured.
func (v *Validator) Enabled() bool {
	return v != nil && len(v.hashes) > 0
}

// Validate returns the KeyInfo of rawKey, or ErrInvalidKey.
func (v *Validator) Validate(_ context.Context, rawKey string) (*KeyInfo, error) {
	sum := sha256.Sum256([]byte(rawKey))
	match := -1
	for i, h := range v.hashes {
		// keep scanning after a hit so timing does not reveal the position
		if subtle.ConstantTimeCompare(h, sum[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		v.logger.Debug("rejected api key")
		return nil, ErrInvalidKey
	}
	return &KeyInfo{
		ID:        hex.EncodeToString(v.hashes[match])[:12],
		RateLimit: v.rateLimit,
	}, nil
}

// HashKey returns the hex SHA-256 of rawKey.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random key suitable for server.adminKeys.
func GenerateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return "ss_" + hex.EncodeToString(b), nil
}
