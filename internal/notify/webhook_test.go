package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"bookline/internal/config"
	"bookline/internal/domain"
)

func TestWebhookDispatcherPostsNotification(t *testing.T) {
	var gotHeaders http.Header
	var body webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	d := NewWebhookDispatcher([]config.WebhookConfig{{URL: srv.URL, Secret: "s3cret", Events: []string{"booking.*"}}}, srv.Client(), nil)
	require.Equal(t, 1, d.Len())

	err := d.Dispatch(context.Background(), domain.Notification{
		ID:          9,
		RecipientID: "buyer-1",
		Type:        "booking.cancelled",
		EntityKind:  domain.KindBooking,
		EntityID:    "bk-1",
		Payload:     `{"reason":"Seller: double booked"}`,
	})
	require.NoError(t, err)
	require.Equal(t, "booking.cancelled", gotHeaders.Get("X-Bookline-Event"))
	require.Equal(t, "9", gotHeaders.Get("X-Bookline-Delivery"))
	require.Equal(t, "s3cret", gotHeaders.Get("X-Bookline-Secret"))
	require.Equal(t, "bk-1", body.EntityID)
	require.JSONEq(t, `{"reason":"Seller: double booked"}`, string(body.Payload))
}

func TestWebhookDispatcherFiltersAndFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	disabled := false
	d := NewWebhookDispatcher([]config.WebhookConfig{
		{URL: srv.URL, Events: []string{"offer.rejected"}},
		{URL: srv.URL, Enabled: &disabled},
	}, srv.Client(), nil)
	require.Equal(t, 1, d.Len())

	require.NoError(t, d.Dispatch(context.Background(), domain.Notification{ID: 1, Type: "booking.created"}))
	require.Zero(t, calls)

	err := d.Dispatch(context.Background(), domain.Notification{ID: 2, Type: "offer.rejected"})
	require.ErrorContains(t, err, "status 502")
	require.Equal(t, 1, calls)
}

func TestEventFilter(t *testing.T) {
	require.True(t, newEventFilter(nil).match("anything"))
	f := newEventFilter([]string{"offer.accepted", "booking.*", " "})
	require.True(t, f.match("offer.accepted"))
	require.False(t, f.match("offer.rejected"))
	require.True(t, f.match("booking.completed"))
	require.False(t, f.match("review.created"))
}
