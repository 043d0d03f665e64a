package indexer

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
)

// Manifest ties the persisted artifacts to the corpus they were built from.
type Manifest struct {
	Fingerprint string    `json:"fingerprint"`
	Sections    []string  `json:"sections"`
	DocCount    int       `json:"docCount"`
	BuiltAt     time.Time `json:"builtAt"`
}

// LoadManifest reads the manifest written by the last successful build.
func LoadManifest(ctx context.Context, store kvstore.Store) (Manifest, error) {
	var m Manifest
	err := kvstore.GetJSON(ctx, store, kvstore.KeyManifest, &m)
	return m, err
}
