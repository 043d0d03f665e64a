package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// fakeConn lets a test play the worker: requests are read from in and
// responses are written to out.
type fakeConn struct {
	in   chan proto.Request
	out  chan proto.Response
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:  make(chan proto.Request, 16),
		out: make(chan proto.Response, 16),
	}
}

func (f *fakeConn) Post(ctx context.Context, req proto.Request) error {
	select {
	case f.in <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Responses() <-chan proto.Response { return f.out }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.out) })
	return nil
}

func (f *fakeConn) next(t *testing.T) proto.Request {
	t.Helper()
	select {
	case r := <-f.in:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no request posted")
		return proto.Request{}
	}
}

type queryResult struct {
	results []proto.ResultEntry
	err     error
}

func readyOrchestrator(t *testing.T, cfg config.WorkersConfig) (*Orchestrator, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	o := New(conn, cfg, nil)
	t.Cleanup(func() { o.Close() })
	conn.out <- proto.Response{Type: proto.TypeReady, Sections: []string{"blog", "docs"}}
	require.Eventually(t, o.Ready, 2*time.Second, 5*time.Millisecond)
	return o, conn
}

func TestQuery_NotReady(t *testing.T) {
	conn := newFakeConn()
	o := New(conn, config.WorkersConfig{}, nil)
	defer o.Close()

	_, err := o.Query(context.Background(), "tab-1", proto.QueryParams{Terms: []string{"go"}})
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
	assert.Empty(t, conn.in)
}

func TestQuery_NewerQueryCancelsPending(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{})
	ctx := context.Background()

	first := make(chan queryResult, 1)
	go func() {
		r, err := o.Query(ctx, "tab-1", proto.QueryParams{Terms: []string{"ca"}})
		first <- queryResult{r, err}
	}()
	req1 := conn.next(t)

	second := make(chan queryResult, 1)
	go func() {
		r, err := o.Query(ctx, "tab-1", proto.QueryParams{Terms: []string{"cat"}})
		second <- queryResult{r, err}
	}()
	req2 := conn.next(t)
	assert.Greater(t, req2.ID, req1.ID)

	r1 := <-first
	assert.ErrorIs(t, r1.err, apperrors.ErrCanceled)

	conn.out <- proto.Response{Type: proto.TypeQueryResult, ID: req1.ID, Results: []proto.ResultEntry{{Ref: "/late", Score: 9}}}
	conn.out <- proto.Response{Type: proto.TypeQueryResult, ID: req2.ID, Results: []proto.ResultEntry{{Ref: "/cat", Score: 1}}}

	r2 := <-second
	require.NoError(t, r2.err)
	assert.Equal(t, []proto.ResultEntry{{Ref: "/cat", Score: 1}}, r2.results)

	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Empty(t, o.pending)
	assert.Empty(t, o.active)
}

func TestQuery_SessionsDoNotCancelEachOther(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{})
	ctx := context.Background()

	a := make(chan queryResult, 1)
	go func() {
		r, err := o.Query(ctx, "client-a", proto.QueryParams{Terms: []string{"golang"}})
		a <- queryResult{r, err}
	}()
	reqA := conn.next(t)

	b := make(chan queryResult, 1)
	go func() {
		r, err := o.Query(ctx, "client-b", proto.QueryParams{Terms: []string{"release"}, Tabs: []string{"blog"}})
		b <- queryResult{r, err}
	}()
	reqB := conn.next(t)

	conn.out <- proto.Response{Type: proto.TypeQueryResult, ID: reqB.ID, Results: []proto.ResultEntry{{Ref: "/blog/release", Score: 1}}}
	conn.out <- proto.Response{Type: proto.TypeQueryResult, ID: reqA.ID, Results: []proto.ResultEntry{{Ref: "/docs/go", Score: 2}}}

	ra, rb := <-a, <-b
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, "/docs/go", ra.results[0].Ref)
	assert.Equal(t, "/blog/release", rb.results[0].Ref)
}

func TestQuery_ConcurrentCallersLeaveNewestActive(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{})
	const n = 12

	results := make(chan queryResult, n)
	for range n {
		go func() {
			r, err := o.Query(context.Background(), "tab-1", proto.QueryParams{Terms: []string{"go"}})
			results <- queryResult{r, err}
		}()
	}
	var newest int64
	for range n {
		if req := conn.next(t); req.ID > newest {
			newest = req.ID
		}
	}

	o.mu.Lock()
	assert.Equal(t, newest, o.active["tab-1"])
	assert.Len(t, o.pending, 1)
	o.mu.Unlock()

	conn.out <- proto.Response{Type: proto.TypeQueryResult, ID: newest, Results: []proto.ResultEntry{{Ref: "/go", Score: 1}}}
	var ok, canceled int
	for range n {
		r := <-results
		switch {
		case r.err == nil:
			ok++
		case errors.Is(r.err, apperrors.ErrCanceled):
			canceled++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, canceled)
}

func TestSend_DoesNotCancelOtherRequests(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{})
	ctx := context.Background()

	hydrated := make(chan error, 1)
	go func() {
		hydrated <- o.Hydrate(ctx, &proto.Indices{}, nil, nil)
	}()
	hreq := conn.next(t)

	queried := make(chan queryResult, 1)
	go func() {
		r, err := o.Query(ctx, "tab-1", proto.QueryParams{Terms: []string{"go"}})
		queried <- queryResult{r, err}
	}()
	qreq := conn.next(t)

	conn.out <- proto.Response{Type: proto.TypeQueryResult, ID: qreq.ID}
	conn.out <- proto.Response{Type: proto.TypeReady, ID: hreq.ID, Sections: []string{"docs"}}

	assert.NoError(t, (<-queried).err)
	assert.NoError(t, <-hydrated)
	assert.Equal(t, []string{"docs"}, o.Sections())
}

func TestSend_MapsErrorCodes(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{})

	done := make(chan error, 1)
	go func() { done <- o.LoadCached(context.Background(), "abc") }()
	req := conn.next(t)
	assert.Equal(t, proto.TypeLoadCachedIndices, req.Type)
	assert.Equal(t, "abc", req.Fingerprint)

	conn.out <- proto.Response{Type: proto.TypeError, ID: req.ID, Code: proto.CodeStaleIndices, Error: "built from old"}
	err := <-done
	assert.ErrorIs(t, err, apperrors.ErrStaleIndices)
	assert.True(t, o.Ready(), "a failed cache load keeps the previous state")
}

func TestSend_SafetyTimeoutOnlyWarns(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{SafetyTimeout: 20 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- o.Hydrate(context.Background(), &proto.Indices{}, nil, nil) }()
	req := conn.next(t)

	require.Eventually(t, func() bool { return o.warnings.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("request resolved by the safety timer: %v", err)
	default:
	}

	conn.out <- proto.Response{Type: proto.TypeReady, ID: req.ID}
	assert.NoError(t, <-done)
}

func TestSend_ContextCancelForgetsRequest(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.LoadCached(ctx, "") }()
	req := conn.next(t)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// the late answer is dropped without blocking the dispatcher
	conn.out <- proto.Response{Type: proto.TypeError, ID: req.ID, Code: proto.CodeNoCachedIndices}
	o.mu.Lock()
	assert.Empty(t, o.pending)
	o.mu.Unlock()
}

func TestWorkerExit_FailsPendingAndMarksNotReady(t *testing.T) {
	o, conn := readyOrchestrator(t, config.WorkersConfig{})

	done := make(chan queryResult, 1)
	go func() {
		r, err := o.Query(context.Background(), "tab-1", proto.QueryParams{Terms: []string{"go"}})
		done <- queryResult{r, err}
	}()
	conn.next(t)
	conn.Close()

	res := <-done
	assert.ErrorIs(t, res.err, apperrors.ErrUnavailable)
	assert.False(t, o.Ready())

	_, err := o.Send(context.Background(), proto.Request{Type: proto.TypeLoadCachedIndices})
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestRunBuild_ForwardsProgress(t *testing.T) {
	conn := newFakeConn()
	conn.out <- proto.Response{Type: proto.TypeBuildStep, Step: "parsing"}
	conn.out <- proto.Response{Type: proto.TypeSectionBuilt, Section: "all", Progress: &proto.Progress{Completed: 1, Total: 1}}
	conn.out <- proto.Response{Type: proto.TypeBuilt, Sections: []string{}}

	var seen []proto.MessageType
	resp, err := RunBuild(context.Background(), conn, proto.Request{Type: proto.TypeBuild, Docs: []proto.Document{}}, func(r proto.Response) {
		seen = append(seen, r.Type)
	})
	require.NoError(t, err)
	assert.Equal(t, proto.TypeBuilt, resp.Type)
	assert.Equal(t, []proto.MessageType{proto.TypeBuildStep, proto.TypeSectionBuilt, proto.TypeBuilt}, seen)
	assert.Equal(t, proto.TypeBuild, (<-conn.in).Type)
}

func TestRunBuild_Failures(t *testing.T) {
	conn := newFakeConn()
	conn.out <- proto.Response{Type: proto.TypeError, Error: "invalid build payload: docs missing"}
	_, err := RunBuild(context.Background(), conn, proto.Request{Type: proto.TypeBuild}, nil)
	assert.ErrorIs(t, err, apperrors.ErrBuildFailed)
	assert.Contains(t, err.Error(), "docs missing")

	conn = newFakeConn()
	conn.Close()
	_, err = RunBuild(context.Background(), conn, proto.Request{Type: proto.TypeBuild}, nil)
	assert.ErrorIs(t, err, apperrors.ErrBuildFailed)
}
