package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBrevo(t *testing.T, h http.HandlerFunc) *Brevo {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	b, err := NewBrevo("key", "noreply@example.com", "Habibi", zap.NewNop())
	require.NoError(t, err)
	b.endpoint = srv.URL
	return b
}

func TestBrevoSend(t *testing.T) {
	var got sendEmailReq
	b := newTestBrevo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, b.Send(context.Background(), "a@example.com", "Reset", "<p>hi</p>"))
	assert.Equal(t, "a@example.com", got.To[0]["email"])
	assert.Equal(t, "noreply@example.com", got.Sender["email"])
	assert.Equal(t, "Reset", got.Subject)
}

func TestBrevoRetriesServerErrors(t *testing.T) {
	var calls int32
	b := newTestBrevo(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, b.Send(context.Background(), "a@example.com", "Reset", "<p>hi</p>"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBrevoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	b := newTestBrevo(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_parameter"}`))
	})

	err := b.Send(context.Background(), "a@example.com", "Reset", "<p>hi</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewBrevoRequiresCredentials(t *testing.T) {
	_, err := NewBrevo("", "noreply@example.com", "x", zap.NewNop())
	assert.Error(t, err)
}
