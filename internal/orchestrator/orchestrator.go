// Package orchestrator correlates requests and responses with the query
// worker, enforces latest-query-wins cancellation and runs builds. Service
// layers the cold-start, rebuild and read-through search flows on top.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// Conn is a worker endpoint. Both the build and the query worker satisfy it.
type Conn interface {
	Post(ctx context.Context, req proto.Request) error
	Responses() <-chan proto.Response
	Close() error
}

type result struct {
	resp proto.Response
	err  error
}

type call struct {
	typ     proto.MessageType
	session string
	query   bool
	ch      chan result
	timer   *time.Timer
}

// Orchestrator owns the id counter, the pending table and one active query
// slot per session for one query worker.
type Orchestrator struct {
	conn    Conn
	safety  time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	warnings atomic.Int64

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]*call
	active   map[string]int64
	ready    bool
	closed   bool
	sections []string

	done chan struct{}
}

func New(conn Conn, cfg config.WorkersConfig, m *metrics.Metrics) *Orchestrator {
	safety := cfg.SafetyTimeout
	if safety <= 0 {
		safety = 5 * time.Minute
	}
	o := &Orchestrator{
		conn:    conn,
		safety:  safety,
		metrics: m,
		logger:  slog.Default().With("component", "orchestrator"),
		pending: make(map[int64]*call),
		active:  make(map[string]int64),
		done:    make(chan struct{}),
	}
	go o.dispatch()
	return o
}

// dispatch routes worker responses to their waiters. Responses whose id is no
// longer pending belong to canceled or abandoned requests and are dropped.
func (o *Orchestrator) dispatch() {
	defer close(o.done)
	for resp := range o.conn.Responses() {
		o.mu.Lock()
		c, ok := o.pending[resp.ID]
		if ok {
			o.release(resp.ID, c)
		}
		if resp.Type == proto.TypeReady {
			o.ready = true
			o.sections = resp.Sections
			o.metrics.SetWorkerReady(true)
		}
		o.mu.Unlock()

		if !ok {
			o.logger.Debug("discarding stale response", "id", resp.ID, "type", resp.Type)
			continue
		}
		c.timer.Stop()
		c.ch <- result{resp: resp}
	}

	o.mu.Lock()
	o.ready = false
	o.closed = true
	for id, c := range o.pending {
		c.timer.Stop()
		c.ch <- result{err: fmt.Errorf("%s %d: %w", c.typ, id, apperrors.ErrUnavailable)}
		delete(o.pending, id)
	}
	clear(o.active)
	o.mu.Unlock()
	o.metrics.SetWorkerReady(false)
	o.logger.Warn("query worker stopped")
}

// register assigns c the next id and makes it pending. A query also takes
// its session's active slot, canceling the query that held it. Ids are
// allocated under mu, so a slot only ever moves to a newer query.
func (o *Orchestrator) register(c *call) (int64, error) {
	c.ch = make(chan result, 1)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, fmt.Errorf("query worker: %w", apperrors.ErrUnavailable)
	}
	o.nextID++
	id := o.nextID
	if c.query {
		if prev, ok := o.active[c.session]; ok {
			o.cancelLocked(prev)
		}
		o.active[c.session] = id
	}
	c.timer = time.AfterFunc(o.safety, func() { o.overdue(id, c.typ) })
	o.pending[id] = c
	return id, nil
}

func (o *Orchestrator) cancelLocked(id int64) {
	prev, ok := o.pending[id]
	if !ok {
		return
	}
	prev.timer.Stop()
	delete(o.pending, id)
	prev.ch <- result{err: fmt.Errorf("query %d: %w", id, apperrors.ErrCanceled)}
	o.metrics.QueryCanceled()
}

func (o *Orchestrator) release(id int64, c *call) {
	delete(o.pending, id)
	if c.query && o.active[c.session] == id {
		delete(o.active, c.session)
	}
}

// overdue only logs. The request stays pending until the worker answers or
// the caller gives up.
func (o *Orchestrator) overdue(id int64, typ proto.MessageType) {
	o.mu.Lock()
	_, still := o.pending[id]
	o.mu.Unlock()
	if !still {
		return
	}
	o.warnings.Add(1)
	o.logger.Warn("worker request exceeded safety timeout",
		"id", id,
		"type", typ,
		"timeout", o.safety,
	)
}

func (o *Orchestrator) forget(id int64) {
	o.mu.Lock()
	if c, ok := o.pending[id]; ok {
		c.timer.Stop()
		o.release(id, c)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) roundTrip(ctx context.Context, id int64, c *call, req proto.Request) (proto.Response, error) {
	req.ID = id
	if err := o.conn.Post(ctx, req); err != nil {
		o.forget(id)
		return proto.Response{}, err
	}
	select {
	case r := <-c.ch:
		if r.err != nil {
			return proto.Response{}, r.err
		}
		return r.resp, r.resp.Err()
	case <-ctx.Done():
		o.forget(id)
		return proto.Response{}, ctx.Err()
	}
}

// Send posts a non-query request and waits for its response. An error
// response is returned together with its mapped error.
func (o *Orchestrator) Send(ctx context.Context, req proto.Request) (proto.Response, error) {
	c := &call{typ: req.Type}
	id, err := o.register(c)
	if err != nil {
		return proto.Response{}, err
	}
	return o.roundTrip(ctx, id, c, req)
}

// Query runs params on the worker for session. A newer Query from the same
// session rejects the pending one with ErrCanceled and its eventual response
// is ignored. Other sessions are unaffected.
func (o *Orchestrator) Query(ctx context.Context, session string, params proto.QueryParams) ([]proto.ResultEntry, error) {
	if !o.Ready() {
		return nil, apperrors.ErrNotReady
	}
	c := &call{typ: proto.TypeQuery, session: session, query: true}
	id, err := o.register(c)
	if err != nil {
		return nil, err
	}

	resp, err := o.roundTrip(ctx, id, c, proto.Request{Type: proto.TypeQuery, Query: &params})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Hydrate loads freshly built artifacts into the query worker.
func (o *Orchestrator) Hydrate(ctx context.Context, indices *proto.Indices, sections []string, docs []proto.Document) error {
	_, err := o.Send(ctx, proto.Request{
		Type:     proto.TypeHydrate,
		Indices:  indices,
		Sections: sections,
		Docs:     docs,
	})
	return err
}

// LoadCached asks the worker to hydrate from the persisted artifacts built
// from fingerprint.
func (o *Orchestrator) LoadCached(ctx context.Context, fingerprint string) error {
	_, err := o.Send(ctx, proto.Request{Type: proto.TypeLoadCachedIndices, Fingerprint: fingerprint})
	return err
}

func (o *Orchestrator) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

// Sections returns the sections reported by the last ready response.
func (o *Orchestrator) Sections() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sections...)
}

// Close stops the worker and waits for the dispatcher to drain.
func (o *Orchestrator) Close() error {
	err := o.conn.Close()
	<-o.done
	return err
}

// RunBuild posts req to a fresh build worker, forwards progress to onEvent
// and returns the built response. The worker is closed before returning.
func RunBuild(ctx context.Context, conn Conn, req proto.Request, onEvent func(proto.Response)) (proto.Response, error) {
	defer conn.Close()
	if err := conn.Post(ctx, req); err != nil {
		return proto.Response{}, fmt.Errorf("%w: %v", apperrors.ErrBuildFailed, err)
	}
	for {
		select {
		case resp, ok := <-conn.Responses():
			if !ok {
				return proto.Response{}, fmt.Errorf("%w: worker exited without a result", apperrors.ErrBuildFailed)
			}
			if onEvent != nil {
				onEvent(resp)
			}
			if !resp.Terminal() {
				continue
			}
			if resp.Type == proto.TypeError {
				return resp, fmt.Errorf("%w: %s", apperrors.ErrBuildFailed, resp.Error)
			}
			return resp, nil
		case <-ctx.Done():
			return proto.Response{}, ctx.Err()
		}
	}
}
