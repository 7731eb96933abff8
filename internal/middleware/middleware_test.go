package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware())
	r.POST("/v1/requests", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/requests", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}

func TestIdempotencyMiddleware_PassesThroughWithoutStore(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	calls := 0
	r := gin.New()
	r.Use(IdempotencyMiddleware(nil, log))
	r.POST("/v1/requests/:id/escrow/release", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/requests/r-1/escrow/release", strings.NewReader(`{}`))
		req.Header.Set(idempotencyHeader, "k-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get(replayHeader))
	}
	assert.Equal(t, 2, calls)
}

// untouchedStore panics on any Redis call.
type untouchedStore struct{ redis.Cmdable }

func TestIdempotencyMiddleware_RejectsOversizedBody(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	calls := 0
	r := gin.New()
	r.Use(IdempotencyMiddleware(untouchedStore{}, log))
	r.POST("/v1/requests", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	body := `{"note":"` + strings.Repeat("x", maxReplayBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", strings.NewReader(body))
	req.Header.Set(idempotencyHeader, "k-big")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, calls)
}

func TestFingerprintOf(t *testing.T) {
	a := fingerprintOf("/v1/offers/o-1/accept", []byte(`{"requester_id":"r"}`))
	assert.Equal(t, a, fingerprintOf("/v1/offers/o-1/accept", []byte(`{"requester_id":"r"}`)))
	assert.NotEqual(t, a, fingerprintOf("/v1/offers/o-2/accept", []byte(`{"requester_id":"r"}`)))
	assert.NotEqual(t, a, fingerprintOf("/v1/offers/o-1/accept", []byte(`{"requester_id":"s"}`)))
	assert.Len(t, a, 64)
}

func TestErrorReporter_LogsAttachedErrors(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	r := gin.New()
	r.Use(ErrorReporter(log))
	r.GET("/v1/requests/:id", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/requests/r-1", nil))

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, "request failed", entry.Message)
	assert.Equal(t, "/v1/requests/:id", entry.Data["route"])
	assert.Equal(t, http.StatusInternalServerError, entry.Data["status"])
}
