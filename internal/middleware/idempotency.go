package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
	idempotencyTTL    = 24 * time.Hour
	inFlightTTL       = 30 * time.Second
	maxReplayBody     = 1 << 20
)

// replay is what gets stored under an idempotency key.
type replay struct {
	Fingerprint string          `json:"fingerprint"`
	StatusCode  int             `json:"status_code"`
	Body        json.RawMessage `json:"body"`
	RetryAfter  string          `json:"retry_after,omitempty"`
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a POST retried with the
// same Idempotency-Key on the same route. Reusing a key with a different body
// is rejected with 422, and a retry that arrives while the first attempt is
// still running gets 409. Bodies over 1 MiB are refused with 413. Redis
// failures degrade to normal handling.
func IdempotencyMiddleware(client redis.Cmdable, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" || c.Request.Method != http.MethodPost || client == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxReplayBody+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		if len(body) > maxReplayBody {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		fingerprint := fingerprintOf(c.Request.URL.Path, body)

		ctx := c.Request.Context()
		storeKey := "idempotency:" + c.Request.URL.Path + ":" + key
		reqLog := log.WithFields(logrus.Fields{"idempotency_key": key, "path": c.Request.URL.Path})

		prior, err := loadReplay(ctx, client, storeKey)
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			reqLog.WithError(err).Warn("idempotency lookup failed")
			c.Next()
			return
		case prior != nil && prior.Fingerprint != fingerprint:
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency key reused with a different request"})
			return
		case prior != nil:
			if prior.RetryAfter != "" {
				c.Header("Retry-After", prior.RetryAfter)
			}
			c.Header(replayHeader, "true")
			c.Data(prior.StatusCode, "application/json; charset=utf-8", prior.Body)
			c.Abort()
			return
		}

		inFlight := storeKey + ":lock"
		acquired, err := client.SetNX(ctx, inFlight, fingerprint, inFlightTTL).Result()
		if err != nil {
			reqLog.WithError(err).Warn("idempotency lock failed")
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		}
		detached := context.WithoutCancel(ctx)
		defer client.Del(detached, inFlight)

		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// 5xx responses are not stored so the client can retry them.
		status := w.Status()
		if status < http.StatusOK || status >= http.StatusInternalServerError {
			return
		}
		err = saveReplay(detached, client, storeKey, replay{
			Fingerprint: fingerprint,
			StatusCode:  status,
			Body:        w.body.Bytes(),
			RetryAfter:  w.Header().Get("Retry-After"),
		})
		if err != nil {
			reqLog.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

func fingerprintOf(path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

func loadReplay(ctx context.Context, client redis.Cmdable, key string) (*replay, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var r replay
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func saveReplay(ctx context.Context, client redis.Cmdable, key string, r replay) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, idempotencyTTL).Err()
}
