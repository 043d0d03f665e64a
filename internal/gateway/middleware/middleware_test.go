package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/auth/ratelimit"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if info := GetKeyInfo(r.Context()); info != nil {
		w.Header().Set("X-Key-ID", info.ID)
	}
	w.WriteHeader(http.StatusOK)
})

func send(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	const key = "ss_admin"
	h := Auth(apikey.NewValidator([]string{key}, 0))(ok)

	rec := send(h, http.MethodPost, "/api/v1/rebuild", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, http.StatusUnauthorized, send(h, http.MethodPost, "/", map[string]string{"Authorization": "Bearer nope"}).Code)

	rec = send(h, http.MethodPost, "/", map[string]string{"Authorization": "bearer " + key})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, apikey.HashKey(key)[:12], rec.Header().Get("X-Key-ID"))
	assert.Equal(t, http.StatusOK, send(h, http.MethodPost, "/", map[string]string{"X-API-Key": key}).Code)

	open := Auth(apikey.NewValidator(nil, 0))(ok)
	assert.Equal(t, http.StatusOK, send(open, http.MethodPost, "/", nil).Code)
}

func TestCORS(t *testing.T) {
	h := CORS(NewCORSConfig([]string{"https://site.example/"}))(ok)

	rec := send(h, http.MethodGet, "/api/v1/search", map[string]string{"Origin": "https://site.example"})
	assert.Equal(t, "https://site.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID")

	rec = send(h, http.MethodOptions, "/api/v1/search", map[string]string{
		"Origin":                        "https://site.example",
		"Access-Control-Request-Method": "GET",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))

	rec = send(h, http.MethodGet, "/api/v1/search", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	anyOrigin := CORS(NewCORSConfig(nil))(ok)
	rec = send(anyOrigin, http.MethodGet, "/", map[string]string{"Origin": "https://elsewhere.example"})
	assert.Equal(t, "https://elsewhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Close)
	h := RateLimit(limiter, 1)(ok)
	client := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}

	rec := send(h, http.MethodGet, "/api/v1/search", client)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send(h, http.MethodGet, "/api/v1/search", client)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/health/ready", client).Code)
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/api/v1/search", map[string]string{"X-Forwarded-For": "198.51.100.2"}).Code)
}
