package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"bookline/internal/domain"
)

func TestHubRoutesByRecipient(t *testing.T) {
	hub := NewHub(nil, nil)
	buyer := NewClient("buyer-1")
	admin := NewClient("admin-1", domain.AdminInbox)
	hub.Register(buyer)
	hub.Register(admin)
	t.Cleanup(func() {
		hub.Unregister(buyer)
		hub.Unregister(admin)
	})
	require.Equal(t, 2, hub.ClientCount())

	require.NoError(t, hub.Dispatch(context.Background(), domain.Notification{ID: 1, RecipientID: domain.AdminInbox, Type: "offer.rejected"}))
	require.NoError(t, hub.Dispatch(context.Background(), domain.Notification{ID: 2, RecipientID: "nobody", Type: "offer.rejected"}))

	select {
	case msg := <-admin.Messages():
		var n domain.Notification
		require.NoError(t, json.Unmarshal(msg, &n))
		require.Equal(t, int64(1), n.ID)
	default:
		t.Fatal("admin client got nothing")
	}
	select {
	case msg := <-buyer.Messages():
		t.Fatalf("buyer got %s", msg)
	default:
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := NewClient("seller-1")
	hub.Register(slow)

	before := testutil.ToFloat64(getMetrics().wsDropped)
	for i := 0; i <= sendBuffer; i++ {
		require.NoError(t, hub.Dispatch(context.Background(), domain.Notification{ID: int64(i), RecipientID: "seller-1"}))
	}
	require.Equal(t, before+1, testutil.ToFloat64(getMetrics().wsDropped))
	require.Zero(t, hub.ClientCount())

	// The queue is closed once drained.
	count := 0
	for range slow.Messages() {
		count++
	}
	require.Equal(t, sendBuffer, count)
}

func TestHubServeStreamsNotifications(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, []string{"buyer-1"})
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Dispatch(context.Background(), domain.Notification{ID: 42, RecipientID: "buyer-1", Type: "booking.accepted"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var n domain.Notification
	require.NoError(t, conn.ReadJSON(&n))
	require.Equal(t, int64(42), n.ID)
	require.Equal(t, "booking.accepted", n.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin", "", true},
		{"same host", "http://api.local", true},
		{"allowed", "https://app.example.com", true},
		{"foreign", "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://api.local/v0/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, check(r))
		})
	}
}
