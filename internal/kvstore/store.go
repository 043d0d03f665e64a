// Package kvstore is the durable string-keyed store shared by the service,
// the build worker and the query worker. Index artifacts, the corpus snapshot,
// the corpus fingerprint and the query-result cache all live here.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
)

// Well-known keys.
const (
	KeyCorpus      = "index_corpus"
	KeyCorpusMeta  = "index_corpus_meta"
	KeyFingerprint = "index_fingerprint"
	KeyIndexAll    = "idx_all"
	KeyBySection   = "idx_by_section"
	KeySections    = "idx_sections"
	KeyDocs        = "idx_docs"
	KeyManifest    = "idx_manifest"
)

// Store is implemented by every backend. Writes are last-write-wins.
// Get returns an error wrapping apperrors.ErrNotFound for absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

func notFound(key string) error {
	return fmt.Errorf("%w: key %q", apperrors.ErrNotFound, key)
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

// GetJSON decodes the JSON value at key into dst.
func GetJSON(ctx context.Context, s Store, key string, dst any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// SetJSON stores value at key as JSON.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
