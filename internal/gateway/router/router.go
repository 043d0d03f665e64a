// Package router wires the public HTTP routes and their middleware.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/ratelimit"
	gwmw "github.com/Adithya-Monish-Kumar-K/sitesearch/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/middleware"
)

// Deps carries everything the route table needs. Analytics, Validator,
// Limiter and Metrics are optional.
type Deps struct {
	Search    *handler.Handler
	Analytics *analytics.Handler
	Health    *health.Checker
	Validator *apikey.Validator
	Limiter   *ratelimit.Limiter
	RateLimit int
	Timeout   time.Duration
	CORS      gwmw.CORSConfig
	Metrics   *metrics.Metrics
}

// New builds the HTTP handler.
//
// Route table:
//
//	GET    /api/v1/search            → ranked, highlighted results
//	GET    /api/v1/sections          → searchable sections
//	GET    /api/v1/status            → readiness and last build
//	POST   /api/v1/rebuild           → refetch corpus and rebuild   (admin)
//	GET    /api/v1/analytics         → aggregated search statistics
//	GET    /api/v1/cache/stats       → query cache counters
//	POST   /api/v1/cache/invalidate  → clear the query cache        (admin)
//	GET    /health/live              → liveness
//	GET    /health/ready             → readiness
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	admin := gwmw.Auth(d.Validator)

	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())

	mux.HandleFunc("GET /api/v1/search", d.Search.Search)
	mux.HandleFunc("GET /api/v1/sections", d.Search.Sections)
	mux.HandleFunc("GET /api/v1/status", d.Search.Status)
	mux.Handle("POST /api/v1/rebuild", admin(http.HandlerFunc(d.Search.Rebuild)))

	if d.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", d.Analytics.Stats)
	}

	mux.HandleFunc("GET /api/v1/cache/stats", d.Search.CacheStats)
	mux.Handle("POST /api/v1/cache/invalidate", admin(http.HandlerFunc(d.Search.CacheInvalidate)))

	// outermost first
	return chain(mux,
		pkgmw.RequestID,
		pkgmw.AccessLog,
		pkgmw.Metrics(d.Metrics),
		gwmw.CORS(d.CORS),
		gwmw.RateLimit(d.Limiter, d.RateLimit),
		pkgmw.Timeout(d.Timeout),
	)
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
