// Package middleware holds the middleware specific to the public search API:
// admin keys, CORS and per-client rate limits.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/logger"
)

type keyInfoCtx struct{}

// Auth admits only requests carrying a configured admin key. With no keys
// configured the wrapped routes are open.
func Auth(v *apikey.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !v.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := presentedKey(r)
			if !ok {
				deny(w, "missing api key")
				return
			}
			info, err := v.Validate(r.Context(), raw)
			if err != nil {
				logger.FromContext(r.Context()).Warn("admin request rejected", "path", r.URL.Path, "client", peer(r))
				deny(w, "invalid api key")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyInfoCtx{}, info)))
		})
	}
}

// GetKeyInfo returns the admin key validated for this request, if any.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(keyInfoCtx{}).(*apikey.KeyInfo)
	return info
}

// presentedKey prefers an Authorization bearer token over X-API-Key.
func presentedKey(r *http.Request) (string, bool) {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	return key, key != ""
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="sitesearch"`)
	writeError(w, http.StatusUnauthorized, msg)
}

// clientKey names the rate-limit bucket: the admin key id once validated,
// otherwise the client address.
func clientKey(r *http.Request) string {
	if info := GetKeyInfo(r.Context()); info != nil {
		return "key:" + info.ID
	}
	return "ip:" + peer(r)
}

// peer is the first X-Forwarded-For hop when present, else the socket peer.
func peer(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
