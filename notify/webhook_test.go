package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var ev event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received <- ev
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, discardLogger())
	notifier.Notify(context.Background(), "identity.sign", map[string]string{
		"identity_id": "idn-1",
	})

	select {
	case ev := <-received:
		assert.Equal(t, "identity.sign", ev.Action)
		assert.Equal(t, "idn-1", ev.Payload["identity_id"])
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhookEmptyEndpointDropsSilently(t *testing.T) {
	notifier := NewWebhookNotifier("", discardLogger())
	// Must not panic or block.
	notifier.Notify(context.Background(), "identity.create", nil)
}

func TestWebhookFailureDoesNotPropagate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, discardLogger())
	notifier.Notify(context.Background(), "identity.destroy", nil)
	// Give the goroutine time to finish; nothing to assert beyond no panic.
	time.Sleep(100 * time.Millisecond)
}
