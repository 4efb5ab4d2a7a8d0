package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "github.com/AlxanderArt/HumanOS/internal/redis"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, sub string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserID(r.Context())
		_, _ = io.WriteString(w, id)
	})
}

func TestAuthenticate_ValidToken(t *testing.T) {
	h := Authenticate(testSecret)(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "user-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestAuthenticate_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"bad signature":  "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), "user-1"),
		"no subject":     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), ""),
		"wrong alg":      "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), "user-1"),
	}
	h := Authenticate(testSecret)(echoUser())
	for name, authz := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if authz != "" {
				req.Header.Set("Authorization", authz)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestAuthenticate_EmptySecretRejectsEverything(t *testing.T) {
	h := Authenticate("")(echoUser())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte("x"), "user-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (redisstore.Decision, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return redisstore.Decision{}, f.err
	}
	d := redisstore.Decision{Allowed: f.allow, Limit: 10, Remaining: 4}
	if !f.allow {
		d.Remaining = 0
		d.RetryAfter = 2500 * time.Millisecond
	}
	return d, nil
}

// ── tests ────────────────────────────────────────────────────────────────────

func serveAs(h http.Handler, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if user != "" {
		req = req.WithContext(WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUserRateLimit(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		lim := &fakeLimiter{allow: true}
		rec := serveAs(UserRateLimit(lim, slog.Default())(echoUser()), "user-1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"user-1"}, lim.keys)
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("denied", func(t *testing.T) {
		lim := &fakeLimiter{allow: false}
		rec := serveAs(UserRateLimit(lim, slog.Default())(echoUser()), "user-1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "3", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "rate limit exceeded")
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		lim := &fakeLimiter{err: errors.New("redis down")}
		rec := serveAs(UserRateLimit(lim, slog.Default())(echoUser()), "user-1")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("anonymous skipped", func(t *testing.T) {
		lim := &fakeLimiter{allow: false}
		rec := serveAs(UserRateLimit(lim, slog.Default())(echoUser()), "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, lim.keys)
	})
}

func TestIPRateLimiter_BurstThenReject(t *testing.T) {
	l := NewIPRateLimiter(0.001, 2)
	h := l.Middleware(echoUser())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different IP has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPRateLimiter_Sweep(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	now := time.Now()
	l.get("10.0.0.1", now.Add(-10*time.Minute))
	l.get("10.0.0.2", now)

	l.Sweep(now)
	assert.Len(t, l.visitors, 1)
	assert.Contains(t, l.visitors, "10.0.0.2")
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestLogger_PassesStatusThrough(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/healthz"`)
}

func TestRequestLogger_ServerErrorsLogAtErrorLevel(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"internal error"}`)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/quality", nil))

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"bytes":26`)
}
