package corpus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

const sampleCorpus = `[
  {"url":"/a","title":"Alpha","section":"guides","tags":["go","kv"],"content":"alpha body"},
  {"url":"/b","title":"Beta","section":"blog","summary":"beta summary"},
  {"url":"/c","title":"Gamma","section":"guides"},
  {"url":"/d","title":"Delta"}
]`

func TestParseAndSections(t *testing.T) {
	docs, err := Parse([]byte(sampleCorpus))
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Equal(t, []string{"blog", "guides"}, Sections(docs))
	assert.Len(t, BySection(docs, "guides"), 2)
	assert.Equal(t, "beta summary", docs[1].Body())

	_, err = Parse([]byte(`{"not":"an array"}`))
	assert.Error(t, err)

	empty, err := Parse([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestMsgpackDocuments(t *testing.T) {
	docs, err := Parse([]byte(sampleCorpus))
	require.NoError(t, err)

	data, err := EncodeMsgpack(docs)
	require.NoError(t, err)
	var got []proto.Document
	require.NoError(t, DecodeMsgpack(data, &got))
	assert.Equal(t, docs, got)
}

type countingSource struct {
	Source
	calls atomic.Int32
}

func (c *countingSource) Fetch(ctx context.Context) (Raw, error) {
	c.calls.Add(1)
	return c.Source.Fetch(ctx)
}

func TestLoader_Tiers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCorpus), 0o644))

	store := kvstore.NewMemory()
	src := &countingSource{Source: &FileSource{Path: path}}

	l := NewLoader(store, src)
	snap, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Docs, 4)
	assert.False(t, snap.FromCache)
	assert.EqualValues(t, 1, src.calls.Load())

	// memory tier
	snap, err = l.Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap.FromCache)
	assert.EqualValues(t, 1, src.calls.Load())

	// a new loader sharing the store reads the durable snapshot
	l2 := NewLoader(store, src)
	snap, err = l2.Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap.FromCache)
	assert.Len(t, snap.Docs, 4)
	assert.NotEmpty(t, snap.Meta.ETag)
	assert.EqualValues(t, 1, src.calls.Load())

	// Fresh always goes to the source
	raw, docs, err := l2.Fresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleCorpus, string(raw.Data))
	assert.Len(t, docs, 4)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestLoader_CorruptStoreFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCorpus), 0o644))

	store := kvstore.NewMemory()
	require.NoError(t, store.Set(ctx, kvstore.KeyCorpus, []byte{0xc1, 0xff}))

	snap, err := NewLoader(store, &FileSource{Path: path}).Load(ctx)
	require.NoError(t, err)
	assert.False(t, snap.FromCache)
	assert.Len(t, snap.Docs, 4)
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = w.Write([]byte(sampleCorpus))
	}))
	defer srv.Close()

	src := &HTTPSource{URL: srv.URL, Timeout: time.Second, Attempts: 3, Client: srv.Client()}
	raw, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, raw.Meta.ETag)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", raw.Meta.LastModified)
	assert.EqualValues(t, 2, hits.Load())
}

func TestHTTPSource_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := &HTTPSource{URL: srv.URL, Timeout: time.Second, Attempts: 3, Client: srv.Client()}
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load index (404)")
	assert.EqualValues(t, 1, hits.Load())
}

func TestWatch_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCorpus), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func() { fired <- struct{}{} })
	}()

	// the watcher registers asynchronously; keep writing until it notices
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-fired:
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(sampleCorpus), 0o644))
		case <-deadline:
			t.Fatal("watcher never fired")
		}
	}
}
