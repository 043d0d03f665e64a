// Package fingerprint identifies corpus versions and decides whether the
// indexes must be rebuilt.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
)

// Decision is the outcome of the gate. Previous is the stored fingerprint
// the corpus was compared against.
type Decision struct {
	Rebuild     bool
	Fingerprint string
	Previous    string
}

// Compute returns the hex sha256 of the raw corpus bytes.
func Compute(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ShouldRebuild skips the rebuild only when a fingerprint was stored and it
// equals the fingerprint of raw.
func ShouldRebuild(raw []byte, stored string) Decision {
	fp := Compute(raw)
	return Decision{
		Rebuild:     stored == "" || stored != fp,
		Fingerprint: fp,
		Previous:    stored,
	}
}

// Store persists the fingerprint of the last successful build.
type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Load returns the stored fingerprint, or "" when none was recorded.
func (s *Store) Load(ctx context.Context) (string, error) {
	v, err := s.kv.Get(ctx, kvstore.KeyFingerprint)
	if kvstore.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading fingerprint: %w", err)
	}
	return string(v), nil
}

func (s *Store) Save(ctx context.Context, fp string) error {
	if err := s.kv.Set(ctx, kvstore.KeyFingerprint, []byte(fp)); err != nil {
		return fmt.Errorf("saving fingerprint: %w", err)
	}
	return nil
}

// Gate loads the stored fingerprint and evaluates raw against it.
func (s *Store) Gate(ctx context.Context, raw []byte) (Decision, error) {
	stored, err := s.Load(ctx)
	if err != nil {
		return ShouldRebuild(raw, ""), err
	}
	return ShouldRebuild(raw, stored), nil
}
