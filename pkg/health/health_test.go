package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusResponse {
	t.Helper()
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("healthy by default", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("noop", time.Second, func(context.Context) error { return nil })

		rec := httptest.NewRecorder()
		h.LiveEndpoint(rec, httptest.NewRequest("GET", "/livez", nil))

		assert.Equal(t, 200, rec.Code)
		assert.Equal(t, "ok", decodeStatus(t, rec).Status)
	})

	t.Run("reports failing check after threshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("db", time.Second, func(context.Context) error {
			return errors.New("connection refused")
		})

		// Drive the probe directly instead of waiting on the ticker.
		p := h.liveness[0]
		for range failureThreshold {
			p.run(context.Background())
		}

		rec := httptest.NewRecorder()
		h.LiveEndpoint(rec, httptest.NewRequest("GET", "/livez", nil))

		assert.Equal(t, 503, rec.Code)
		resp := decodeStatus(t, rec)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["db"])
	})

	t.Run("single failure does not flip the probe", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
			return errors.New("transient")
		})

		h.liveness[0].run(context.Background())

		rec := httptest.NewRecorder()
		h.LiveEndpoint(rec, httptest.NewRequest("GET", "/livez", nil))
		assert.Equal(t, 200, rec.Code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not ready until marked", func(t *testing.T) {
		h := New()

		rec := httptest.NewRecorder()
		h.ReadyEndpoint(rec, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, 503, rec.Code)

		h.SetReady(true)
		rec = httptest.NewRecorder()
		h.ReadyEndpoint(rec, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, 200, rec.Code)
	})

	t.Run("draining flips back to not ready", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		require.True(t, h.IsReady())

		h.SetReady(false)
		assert.False(t, h.IsReady())
	})
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddReadinessCheck("counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	assert.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, time.Second, 5*time.Millisecond, "check should run on start and on ticks")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
