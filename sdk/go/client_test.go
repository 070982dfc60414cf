package booklinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/engine"
	"bookline/internal/migrate"
	"bookline/internal/server"
)

const secret = "sdk-secret"

func newClient(t *testing.T, baseURL, actorID, role string) *Client {
	t.Helper()
	token, err := server.SignToken(secret, actorID, role, time.Hour)
	require.NoError(t, err)
	c := New(baseURL)
	c.BearerToken = token
	return c
}

func startServer(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	h, err := server.New(server.Config{
		Engine: engine.New(conn, config.Default()),
		Auth:   server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestClientOfferToReview(t *testing.T) {
	ctx := context.Background()
	url := startServer(t)
	buyer := newClient(t, url, "buyer-1", "buyer")
	admin := newClient(t, url, "admin-1", "admin")
	seller := newClient(t, url, "seller-1", "seller")

	budget := 250.0
	jr, err := buyer.CreateJobRequest(ctx, "Bookkeeping", "finance", &budget)
	require.NoError(t, err)
	require.Equal(t, "open", jr.Status)

	offers, err := admin.CreateOffers(ctx, jr.ID, OfferInput{SellerID: "seller-1"})
	require.NoError(t, err)
	require.Len(t, offers, 1)

	res, err := seller.RespondOffer(ctx, offers[0].ID, "accept", "pending")
	require.NoError(t, err)
	require.NotNil(t, res.Booking)
	require.Equal(t, "250", res.Booking.Price)

	b, err := seller.RespondBooking(ctx, res.Booking.ID, "accept", "pending")
	require.NoError(t, err)
	require.Equal(t, "accepted", b.Status)

	_, err = seller.RespondBooking(ctx, res.Booking.ID, "accept", "pending")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "conflict", apiErr.Code)

	_, err = buyer.ReviewBooking(ctx, b.ID, 5, "")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "invalid_transition", apiErr.Code)

	inbox, err := seller.Notifications(ctx, true, 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, inbox.Items)
	read, err := seller.MarkNotificationRead(ctx, inbox.Items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
}

func TestClientCancelWithShortReason(t *testing.T) {
	ctx := context.Background()
	url := startServer(t)
	buyer := newClient(t, url, "buyer-1", "buyer")
	_, err := buyer.CancelBooking(ctx, "missing", "short", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "validation_failed", apiErr.Code)
}

func TestClientSellerReviews(t *testing.T) {
	ctx := context.Background()
	url := startServer(t)
	buyer := newClient(t, url, "buyer-1", "buyer")
	admin := newClient(t, url, "admin-1", "admin")
	seller := newClient(t, url, "seller-1", "seller")

	empty, err := buyer.SellerReviews(ctx, "seller-1", 0)
	require.NoError(t, err)
	require.Zero(t, empty.TotalReviews)
	require.Nil(t, empty.AverageRating)

	ratings := []int{5, 4}
	for _, rating := range ratings {
		jr, err := buyer.CreateJobRequest(ctx, "Bookkeeping", "finance", nil)
		require.NoError(t, err)
		offers, err := admin.CreateOffers(ctx, jr.ID, OfferInput{SellerID: "seller-1"})
		require.NoError(t, err)
		res, err := seller.RespondOffer(ctx, offers[0].ID, "accept", "")
		require.NoError(t, err)
		_, err = seller.RespondBooking(ctx, res.Booking.ID, "accept", "")
		require.NoError(t, err)
		_, err = admin.CompleteBooking(ctx, res.Booking.ID, "accepted")
		require.NoError(t, err)
		_, err = buyer.ReviewBooking(ctx, res.Booking.ID, rating, "")
		require.NoError(t, err)
	}

	profile, err := seller.SellerReviews(ctx, "seller-1", 10)
	require.NoError(t, err)
	require.Equal(t, "seller-1", profile.SellerID)
	require.Equal(t, 2, profile.TotalReviews)
	require.Len(t, profile.Reviews, 2)
	require.NotNil(t, profile.AverageRating)
	require.InDelta(t, 4.5, *profile.AverageRating, 0.001)
}
