package corpus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/resilience"
)

// Meta describes the fetched corpus payload.
type Meta struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	TS           int64  `json:"ts"`
}

// Raw is an unparsed corpus payload.
type Raw struct {
	Data []byte
	Meta Meta
}

// Source fetches the current raw corpus.
type Source interface {
	Fetch(ctx context.Context) (Raw, error)
	String() string
}

// NewSource picks a file source when cfg.Path is set, else an HTTP source.
func NewSource(cfg config.CorpusConfig) Source {
	if cfg.Path != "" {
		return &FileSource{Path: cfg.Path}
	}
	return &HTTPSource{
		URL:      cfg.URL,
		Timeout:  cfg.FetchTimeout,
		Attempts: cfg.FetchRetries,
		Client:   http.DefaultClient,
	}
}

type FileSource struct {
	Path string
}

func (f *FileSource) Fetch(ctx context.Context) (Raw, error) {
	if err := ctx.Err(); err != nil {
		return Raw{}, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Raw{}, fmt.Errorf("reading corpus %s: %w", f.Path, err)
	}
	meta := Meta{TS: time.Now().UnixMilli()}
	if st, err := os.Stat(f.Path); err == nil {
		meta.LastModified = st.ModTime().UTC().Format(http.TimeFormat)
		meta.ETag = strconv.Quote(fmt.Sprintf("%x-%x", st.Size(), st.ModTime().UnixNano()))
	}
	return Raw{Data: data, Meta: meta}, nil
}

func (f *FileSource) String() string { return "file:" + f.Path }

// HTTPSource fetches the corpus over HTTP, retrying transport errors and 5xx
// responses.
type HTTPSource struct {
	URL      string
	Timeout  time.Duration
	Attempts int
	Client   *http.Client
}

func (h *HTTPSource) Fetch(ctx context.Context) (Raw, error) {
	var (
		mu  sync.Mutex
		raw Raw
	)
	err := resilience.Retry(ctx, "corpus-fetch", resilience.RetryConfig{MaxAttempts: h.Attempts}, func() error {
		return resilience.WithTimeout(ctx, h.Timeout, "corpus-fetch", func(ctx context.Context) error {
			r, err := h.fetchOnce(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			raw = r
			mu.Unlock()
			return nil
		})
	})
	mu.Lock()
	defer mu.Unlock()
	return raw, err
}

func (h *HTTPSource) fetchOnce(ctx context.Context) (Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Raw{}, resilience.Permanent(fmt.Errorf("building corpus request: %w", err))
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := h.Client.Do(req)
	if err != nil {
		return Raw{}, fmt.Errorf("fetching corpus: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("failed to load index (%d)", resp.StatusCode)
		if resp.StatusCode < 500 {
			return Raw{}, resilience.Permanent(err)
		}
		return Raw{}, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Raw{}, fmt.Errorf("reading corpus body: %w", err)
	}
	return Raw{
		Data: data,
		Meta: Meta{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			TS:           time.Now().UnixMilli(),
		},
	}, nil
}

func (h *HTTPSource) String() string { return h.URL }
