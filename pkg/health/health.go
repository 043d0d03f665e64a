// Package health runs the component probes behind /health/live and
// /health/ready.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

func Up(msg string) ComponentHealth       { return ComponentHealth{Status: StatusUp, Message: msg} }
func Degraded(msg string) ComponentHealth { return ComponentHealth{Status: StatusDegraded, Message: msg} }
func Down(msg string) ComponentHealth     { return ComponentHealth{Status: StatusDown, Message: msg} }

type Check func(ctx context.Context) ComponentHealth

// Bool reports down with msg while probe returns false.
func Bool(probe func() bool, msg string) Check {
	return func(context.Context) ComponentHealth {
		if probe() {
			return Up("")
		}
		return Down(msg)
	}
}

// Ping reports down with the error text while ping fails, and up with okMsg
// otherwise.
func Ping(ping func(context.Context) error, okMsg string) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return Down(err.Error())
		}
		return Up(okMsg)
	}
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Uptime     string                     `json:"uptime"`
}

type entry struct {
	check    Check
	optional bool
}

// Checker holds the registered probes. A probe that does not answer within
// the per-check timeout is reported down.
type Checker struct {
	mu      sync.RWMutex
	entries map[string]entry
	timeout time.Duration
	started time.Time
}

func NewChecker() *Checker {
	return &Checker{
		entries: make(map[string]entry),
		timeout: 2 * time.Second,
		started: time.Now(),
	}
}

// Register adds or replaces a probe whose failure takes the service down.
func (c *Checker) Register(name string, check Check) {
	c.add(name, entry{check: check})
}

// RegisterOptional adds a probe whose failure only degrades the service.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.add(name, entry{check: check, optional: true})
}

func (c *Checker) add(name string, e entry) {
	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
}

// Names lists registered probes in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run probes every component in parallel. The report takes the worst status,
// with optional components capped at degraded.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	entries := make(map[string]entry, len(c.entries))
	for n, e := range c.entries {
		entries[n] = e
	}
	c.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(entries))
	var mu sync.Mutex
	var g errgroup.Group
	for name, e := range entries {
		g.Go(func() error {
			res := c.probe(ctx, e.check)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusUp
	for name, res := range results {
		s := res.Status
		if entries[name].optional && s == StatusDown {
			s = StatusDegraded
		}
		if s.rank() > overall.rank() {
			overall = s
		}
	}
	return Report{
		Status:     overall,
		Components: results,
		CheckedAt:  time.Now().UTC(),
		Uptime:     time.Since(c.started).Round(time.Second).String(),
	}
}

func (c *Checker) probe(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan ComponentHealth, 1)
	go func() { done <- check(ctx) }()

	var res ComponentHealth
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Down("check timed out")
	}
	res.Latency = time.Since(start).Round(time.Microsecond).String()
	return res
}

// LiveHandler answers 200 while the process can serve HTTP at all.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(c.started).Round(time.Second).String(),
		})
	}
}

// ReadyHandler answers 503 only when the report is down. Degraded still
// takes traffic.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
