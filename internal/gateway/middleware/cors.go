package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig says which browser origins may call the API.
type CORSConfig struct {
	origins map[string]struct{}
	any     bool
	methods string
	headers string
	expose  string
	maxAge  string
}

// NewCORSConfig allows the given origins. An empty list, or "*", allows any.
func NewCORSConfig(origins []string) CORSConfig {
	cfg := CORSConfig{
		origins: make(map[string]struct{}, len(origins)),
		any:     len(origins) == 0,
		methods: "GET, POST, OPTIONS",
		headers: "Authorization, Content-Type, X-API-Key, X-Request-ID, X-Session-ID",
		expose:  "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After",
		maxAge:  strconv.Itoa(int((24 * time.Hour).Seconds())),
	}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			cfg.any = true
		}
		cfg.origins[o] = struct{}{}
	}
	return cfg
}

func (c CORSConfig) allows(origin string) bool {
	if c.any {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// CORS answers preflights and tags responses for allowed origins. Requests
// from other origins pass through untouched, so the browser blocks them.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin == "" || !cfg.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				h.Set("Access-Control-Expose-Headers", cfg.expose)
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Methods", cfg.methods)
			h.Set("Access-Control-Allow-Headers", cfg.headers)
			h.Set("Access-Control-Max-Age", cfg.maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
