package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/redis"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	require.NoError(t, s.Set(ctx, KeyFingerprint, []byte("abc")))
	got, err := s.Get(ctx, KeyFingerprint)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	// last write wins
	require.NoError(t, s.Set(ctx, KeyFingerprint, []byte("def")))
	got, err = s.Get(ctx, KeyFingerprint)
	require.NoError(t, err)
	assert.Equal(t, []byte("def"), got)

	require.NoError(t, s.Set(ctx, "ns/cache/b", []byte("2")))
	require.NoError(t, s.Set(ctx, "ns/cache/a", []byte("1")))
	require.NoError(t, s.Set(ctx, "other/a_b%", []byte("x")))
	keys, err := s.Keys(ctx, "ns/cache/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns/cache/a", "ns/cache/b"}, keys)

	require.NoError(t, s.Delete(ctx, "ns/cache/a"))
	keys, err = s.Keys(ctx, "ns/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns/cache/b"}, keys)

	// deleting an absent key is not an error
	require.NoError(t, s.Delete(ctx, "ns/cache/a"))

	type manifest struct {
		Fingerprint string   `json:"fingerprint"`
		Sections    []string `json:"sections"`
	}
	require.NoError(t, SetJSON(ctx, s, KeyManifest, manifest{Fingerprint: "f1", Sections: []string{"blog"}}))
	var m manifest
	require.NoError(t, GetJSON(ctx, s, KeyManifest, &m))
	assert.Equal(t, "f1", m.Fingerprint)
	assert.Equal(t, []string{"blog"}, m.Sections)

	require.NoError(t, s.Ping(ctx))
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'z'
	got, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.db")
	s, err := OpenBolt(path, "indexes")
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// survives reopen
	s, err = OpenBolt(path, "indexes")
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), KeyFingerprint)
	require.NoError(t, err)
	assert.Equal(t, []byte("def"), got)
}

func TestRedis(t *testing.T) {
	cfg := config.Default().Redis
	cfg.KeyPrefix = "sitesearch-test:" + time.Now().Format("150405.000") + ":"
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	s := NewRedis(client)
	defer func() {
		_, _ = client.DeletePrefix(context.Background(), "")
		s.Close()
	}()
	exerciseStore(t, s)
}

func TestPostgres(t *testing.T) {
	client, err := postgres.New(config.Default().Postgres)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	ctx := context.Background()
	table := "sitesearch_kv_test"
	s, err := NewPostgres(ctx, client, table)
	require.NoError(t, err)
	defer func() {
		client.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
		s.Close()
	}()
	exerciseStore(t, s)
}

func TestNewPostgres_RejectsBadTable(t *testing.T) {
	_, err := NewPostgres(context.Background(), nil, "kv; DROP TABLE x")
	require.Error(t, err)
}

func TestOpen_Memory(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
}

func TestLikeEscape(t *testing.T) {
	assert.Equal(t, `a\_b\%`, likeEscape("a_b%"))
}
