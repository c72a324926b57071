package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/framestudio/agency-assistant/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, scopes ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(method, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@framestudio.gr",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Auth(testSecret))
	r.Use(RequireScope(ScopeAdmin))
	r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetSubject(r.Context())))
	})
	return r
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), ScopeAdmin), want: http.StatusUnauthorized},
		{name: "wrong algorithm", header: "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), ScopeAdmin), want: http.StatusUnauthorized},
		{name: "missing scope", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "read"), want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), ScopeAdmin), want: http.StatusOK},
	}

	h := adminRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "ops@framestudio.gr", rec.Body.String())
			} else {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestLogging_CorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := chi.NewRouter()
	r.Use(Logging(&logger.Logger{Logger: zap.New(core)}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context(), nil).Info("handled")
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
	handled := logs.FilterMessage("handled").All()
	require.Len(t, handled, 1)
	assert.Equal(t, "abc-123", handled[0].ContextMap()["correlation_id"])
	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, "/ping", completed[0].ContextMap()["route"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestIPRateLimit(t *testing.T) {
	h := IPRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":60}`, last.Body.String())
}
