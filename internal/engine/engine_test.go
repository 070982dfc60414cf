package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/engine/auth"
	"bookline/internal/migrate"
	"bookline/internal/repo"
)

var (
	buyer   = auth.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	buyer2  = auth.Actor{ID: "buyer-2", Role: domain.RoleBuyer}
	seller1 = auth.Actor{ID: "seller-1", Role: domain.RoleSeller}
	seller2 = auth.Actor{ID: "seller-2", Role: domain.RoleSeller}
	admin   = auth.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Ctx: context.Background(), clock: &clock}
}

func budget(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func (env testEnv) jobRequest(t *testing.T) domain.JobRequest {
	t.Helper()
	jr, err := env.Engine.CreateJobRequest(env.Ctx, engine.JobRequestCreateOptions{
		Actor:    buyer,
		Title:    "Inbox zero",
		Category: "email_management",
		Budget:   budget(500),
	})
	require.NoError(t, err)
	return jr
}

func (env testEnv) offers(t *testing.T, requestID string, sellers ...string) []domain.Offer {
	t.Helper()
	var in []engine.OfferInput
	for _, s := range sellers {
		in = append(in, engine.OfferInput{SellerID: s})
	}
	out, err := env.Engine.CreateOffers(env.Ctx, engine.OfferCreateOptions{Actor: admin, RequestID: requestID, Offers: in})
	require.NoError(t, err)
	return out
}

func (env testEnv) slot(t *testing.T, seller auth.Actor, start time.Time, d time.Duration) domain.AvailabilitySlot {
	t.Helper()
	s, err := env.Engine.CreateSlot(env.Ctx, engine.SlotCreateOptions{
		Actor:     seller,
		StartTime: start.Format(time.RFC3339),
		EndTime:   start.Add(d).Format(time.RFC3339),
	})
	require.NoError(t, err)
	return s
}

func (env testEnv) directBooking(t *testing.T, slotID string) domain.Booking {
	t.Helper()
	b, err := env.Engine.CreateBooking(env.Ctx, engine.BookingCreateOptions{
		Actor:        buyer,
		SellerID:     seller1.ID,
		SlotID:       slotID,
		Price:        decimal.NewFromInt(120),
		Requirements: "two hours of triage",
	})
	require.NoError(t, err)
	return b
}

func (env testEnv) inbox(t *testing.T, actor auth.Actor) []domain.Notification {
	t.Helper()
	items, err := env.Engine.ListNotifications(env.Ctx, actor, false, 0, 200)
	require.NoError(t, err)
	return items
}

func TestOfferAcceptScenario(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	require.Equal(t, domain.JobRequestOpen, jr.Status)

	offers := env.offers(t, jr.ID, seller1.ID, seller2.ID)
	require.Len(t, offers, 2)
	jr, err := env.Engine.GetJobRequest(env.Ctx, buyer, jr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestAssigned, jr.Status)

	res, err := env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller1, ID: offers[0].ID, Action: "accept"})
	require.NoError(t, err)
	require.Equal(t, domain.OfferAccepted, res.Offer.Status)
	require.NotNil(t, res.Booking)
	require.Equal(t, domain.BookingPending, res.Booking.Status)
	require.Equal(t, buyer.ID, res.Booking.BuyerID)
	require.Equal(t, seller1.ID, res.Booking.SellerID)
	require.True(t, res.Booking.Price.Equal(decimal.NewFromInt(500)))
	require.Equal(t, res.Booking.ID, *res.Offer.BookingID)

	sibling, err := env.Engine.GetOffer(env.Ctx, admin, offers[1].ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferRejected, sibling.Status)

	jr, err = env.Engine.GetJobRequest(env.Ctx, buyer, jr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestAssigned, jr.Status)

	// The losing seller hears about it, the winner does not get a self-notification.
	var rejected bool
	for _, n := range env.inbox(t, seller2) {
		if n.EntityID == offers[1].ID && n.NewStatus == domain.OfferRejected {
			rejected = true
		}
	}
	require.True(t, rejected)
	for _, n := range env.inbox(t, seller1) {
		require.NotEqual(t, "offer.accepted", n.Type)
	}
}

func TestAcceptWhileSiblingAcceptedConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Policy.FirstAcceptWins = false
	jr := env.jobRequest(t)
	offers := env.offers(t, jr.ID, seller1.ID, seller2.ID)

	_, err := env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller2, ID: offers[1].ID, Action: "accept"})
	require.NoError(t, err)

	_, err = env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller1, ID: offers[0].ID, Action: "accept"})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.ErrorIs(t, err, repo.ErrConflict)

	o, err := env.Engine.GetOffer(env.Ctx, admin, offers[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferPending, o.Status)
}

func TestConcurrentAcceptBurst(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Policy.FirstAcceptWins = false
	jr := env.jobRequest(t)
	sellers := []auth.Actor{
		{ID: "s-a", Role: domain.RoleSeller},
		{ID: "s-b", Role: domain.RoleSeller},
		{ID: "s-c", Role: domain.RoleSeller},
		{ID: "s-d", Role: domain.RoleSeller},
		{ID: "s-e", Role: domain.RoleSeller},
	}
	var ids []string
	for _, s := range sellers {
		ids = append(ids, s.ID)
	}
	offers := env.offers(t, jr.ID, ids...)

	var wg sync.WaitGroup
	errs := make([]error, len(offers))
	for i := range offers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: sellers[i], ID: offers[i].ID, Action: "accept"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var conflict engine.ConflictError
		require.ErrorAs(t, err, &conflict)
	}
	require.Equal(t, 1, wins)

	accepted, err := env.Engine.ListOffers(env.Ctx, admin, repo.OfferFilters{RequestID: jr.ID, Status: domain.OfferAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	bookings, err := env.Engine.ListBookings(env.Ctx, admin, repo.BookingFilters{})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
}

func TestAcceptResolvedOfferConflicts(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	offers := env.offers(t, jr.ID, seller1.ID)

	_, err := env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller1, ID: offers[0].ID, Action: "reject"})
	require.NoError(t, err)
	_, err = env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller1, ID: offers[0].ID, Action: "accept"})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestOfferRespondForbiddenForOtherSeller(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	offers := env.offers(t, jr.ID, seller1.ID)

	_, err := env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller2, ID: offers[0].ID, Action: "accept"})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	o, err := env.Engine.GetOffer(env.Ctx, admin, offers[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferPending, o.Status)
}

func TestWithdrawOffer(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	offers := env.offers(t, jr.ID, seller1.ID)

	o, err := env.Engine.WithdrawOffer(env.Ctx, engine.OfferWithdrawOptions{Actor: admin, ID: offers[0].ID})
	require.NoError(t, err)
	require.Equal(t, domain.OfferRejected, o.Status)

	// A fresh offer to the same seller is allowed once the old one is resolved.
	again := env.offers(t, jr.ID, seller1.ID)
	require.Len(t, again, 1)
}

func TestJobRequestCancelCascadesToOffers(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	offers := env.offers(t, jr.ID, seller1.ID, seller2.ID)

	_, err := env.Engine.SetJobRequestStatus(env.Ctx, engine.JobRequestStatusOptions{Actor: buyer2, ID: jr.ID, Status: "cancelled"})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	jr, err = env.Engine.SetJobRequestStatus(env.Ctx, engine.JobRequestStatusOptions{Actor: buyer, ID: jr.ID, Status: "cancelled", Reason: "no longer needed"})
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestCancelled, jr.Status)
	for _, o := range offers {
		got, err := env.Engine.GetOffer(env.Ctx, admin, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.OfferRejected, got.Status)
	}

	_, err = env.Engine.CreateOffers(env.Ctx, engine.OfferCreateOptions{Actor: admin, RequestID: jr.ID, Offers: []engine.OfferInput{{SellerID: seller1.ID}}})
	var invalid engine.TransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = env.Engine.SetJobRequestStatus(env.Ctx, engine.JobRequestStatusOptions{Actor: admin, ID: jr.ID, Status: "rejected"})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestJobRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateJobRequest(env.Ctx, engine.JobRequestCreateOptions{Actor: buyer, Category: "email_management"})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "title", verr.Field)

	_, err = env.Engine.CreateJobRequest(env.Ctx, engine.JobRequestCreateOptions{Actor: buyer, Title: "x", Category: "y", DueAt: "tomorrow"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "due_at", verr.Field)

	_, err = env.Engine.CreateJobRequest(env.Ctx, engine.JobRequestCreateOptions{Actor: seller1, Title: "x", Category: "y"})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestCancelReasonTooShort(t *testing.T) {
	env := newTestEnv(t)
	b := env.directBooking(t, "")

	_, err := env.Engine.CancelBooking(env.Ctx, engine.BookingCancelOptions{Actor: buyer, ID: b.ID, Reason: "too short"})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "reason", verr.Field)

	got, err := env.Engine.GetBooking(env.Ctx, buyer, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BookingPending, got.Status)

	got, err = env.Engine.CancelBooking(env.Ctx, engine.BookingCancelOptions{Actor: buyer, ID: b.ID, Reason: "plans changed, sorry"})
	require.NoError(t, err)
	require.Equal(t, domain.BookingCancelled, got.Status)
	require.Equal(t, "plans changed, sorry", *got.CancelReason)
}

func TestBuyerCannotCancelAcceptedBooking(t *testing.T) {
	env := newTestEnv(t)
	b := env.directBooking(t, "")
	_, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept"})
	require.NoError(t, err)

	_, err = env.Engine.CancelBooking(env.Ctx, engine.BookingCancelOptions{Actor: buyer, ID: b.ID, Reason: "changed my mind entirely"})
	var invalid engine.TransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestSellerCancelReleasesSlot(t *testing.T) {
	env := newTestEnv(t)
	s := env.slot(t, seller1, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), time.Hour)
	b := env.directBooking(t, s.ID)
	_, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept"})
	require.NoError(t, err)

	slot, err := env.Engine.Repo.GetSlot(env.Ctx, s.ID)
	require.NoError(t, err)
	require.True(t, slot.IsBooked)

	got, err := env.Engine.CancelBooking(env.Ctx, engine.BookingCancelOptions{Actor: seller1, ID: b.ID, Reason: "fell ill this week"})
	require.NoError(t, err)
	require.Equal(t, "Seller: fell ill this week", *got.CancelReason)

	slot, err = env.Engine.Repo.GetSlot(env.Ctx, s.ID)
	require.NoError(t, err)
	require.False(t, slot.IsBooked)
	require.Nil(t, slot.BookingID)
}

func TestDoubleBookingSlotUnavailable(t *testing.T) {
	env := newTestEnv(t)
	s := env.slot(t, seller1, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), time.Hour)
	first := env.directBooking(t, s.ID)
	second := env.directBooking(t, s.ID)

	_, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: first.ID, Action: "accept"})
	require.NoError(t, err)
	_, err = env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: second.ID, Action: "accept"})
	var unavailable engine.SlotUnavailableError
	require.ErrorAs(t, err, &unavailable)

	got, err := env.Engine.GetBooking(env.Ctx, seller1, second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BookingPending, got.Status)

	// Rejecting the loser must not free the winner's slot.
	_, err = env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: second.ID, Action: "reject"})
	require.NoError(t, err)
	slot, err := env.Engine.Repo.GetSlot(env.Ctx, s.ID)
	require.NoError(t, err)
	require.True(t, slot.IsBooked)
	require.Equal(t, first.ID, *slot.BookingID)
}

func TestDeleteBookedSlot(t *testing.T) {
	env := newTestEnv(t)
	s := env.slot(t, seller1, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), time.Hour)
	b := env.directBooking(t, s.ID)
	_, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept"})
	require.NoError(t, err)

	err = env.Engine.DeleteSlot(env.Ctx, seller2, s.ID)
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	err = env.Engine.DeleteSlot(env.Ctx, seller1, s.ID)
	var unavailable engine.SlotUnavailableError
	require.ErrorAs(t, err, &unavailable)
	_, err = env.Engine.Repo.GetSlot(env.Ctx, s.ID)
	require.NoError(t, err)

	free := env.slot(t, seller1, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), time.Hour)
	require.NoError(t, env.Engine.DeleteSlot(env.Ctx, seller1, free.ID))
	_, err = env.Engine.Repo.GetSlot(env.Ctx, free.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSlotValidation(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	_, err := env.Engine.CreateSlot(env.Ctx, engine.SlotCreateOptions{
		Actor: seller1, StartTime: start.Format(time.RFC3339), EndTime: start.Format(time.RFC3339),
	})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	env.slot(t, seller1, start, 2*time.Hour)
	_, err = env.Engine.CreateSlot(env.Ctx, engine.SlotCreateOptions{
		Actor: seller1, StartTime: start.Add(time.Hour).Format(time.RFC3339), EndTime: start.Add(3 * time.Hour).Format(time.RFC3339),
	})
	require.ErrorAs(t, err, &verr)

	// Another seller may hold the same window.
	env.slot(t, seller2, start, 2*time.Hour)
}

func TestReviewOnlyAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	pending := env.directBooking(t, "")
	_, err := env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer, BookingID: pending.ID, Rating: 5})
	var invalid engine.TransitionError
	require.ErrorAs(t, err, &invalid)

	accepted := env.directBooking(t, "")
	_, err = env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: accepted.ID, Action: "accept"})
	require.NoError(t, err)
	_, err = env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer, BookingID: accepted.ID, Rating: 5})
	require.ErrorAs(t, err, &invalid)

	cancelled := env.directBooking(t, "")
	_, err = env.Engine.CancelBooking(env.Ctx, engine.BookingCancelOptions{Actor: buyer, ID: cancelled.ID, Reason: "found someone else"})
	require.NoError(t, err)
	_, err = env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer, BookingID: cancelled.ID, Rating: 5})
	require.ErrorAs(t, err, &invalid)
}

func TestBookingLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	s := env.slot(t, seller1, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), 2*time.Hour)
	b := env.directBooking(t, s.ID)
	require.Equal(t, s.EndTime, *b.ScheduledEnd)

	b, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept"})
	require.NoError(t, err)
	require.Equal(t, domain.BookingAccepted, b.Status)

	// Not due yet.
	res, err := env.Engine.CompleteDueBookings(env.Ctx, 10)
	require.NoError(t, err)
	require.Empty(t, res.Completed)
	_, err = env.Engine.CompleteBooking(env.Ctx, engine.BookingCompleteOptions{Actor: auth.System, ID: b.ID})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	env.advance(13 * time.Hour)
	res, err = env.Engine.CompleteDueBookings(env.Ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{b.ID}, res.Completed)

	b, err = env.Engine.GetBooking(env.Ctx, buyer, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BookingCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)

	rv, err := env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer, BookingID: b.ID, Rating: 5, Comment: "great"})
	require.NoError(t, err)
	require.Equal(t, 5, rv.Rating)
	require.Equal(t, seller1.ID, rv.ReviewedID)

	_, err = env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer, BookingID: b.ID, Rating: 4, Comment: "again"})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)

	b, err = env.Engine.GetBooking(env.Ctx, buyer, b.ID)
	require.NoError(t, err)
	require.True(t, b.Reviewed)
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t)
	b := env.directBooking(t, "")
	_, err := env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer, BookingID: b.ID, Rating: 6})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "rating", verr.Field)

	_, err = env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer2, BookingID: b.ID, Rating: 3})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestCompletionFulfillsJobRequest(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	offers := env.offers(t, jr.ID, seller1.ID)
	res, err := env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller1, ID: offers[0].ID, Action: "accept"})
	require.NoError(t, err)
	_, err = env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: res.Booking.ID, Action: "accept"})
	require.NoError(t, err)

	_, err = env.Engine.CompleteBooking(env.Ctx, engine.BookingCompleteOptions{Actor: seller1, ID: res.Booking.ID})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	b, err := env.Engine.CompleteBooking(env.Ctx, engine.BookingCompleteOptions{Actor: admin, ID: res.Booking.ID})
	require.NoError(t, err)
	require.Equal(t, domain.BookingCompleted, b.Status)

	jr, err = env.Engine.GetJobRequest(env.Ctx, admin, jr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestFulfilled, jr.Status)
}

func (env testEnv) acceptedOffer(t *testing.T, requestID string, seller auth.Actor) domain.Booking {
	t.Helper()
	offers := env.offers(t, requestID, seller.ID)
	res, err := env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller, ID: offers[0].ID, Action: "accept"})
	require.NoError(t, err)
	return *res.Booking
}

func TestSweeperCompletesOfferBooking(t *testing.T) {
	env := newTestEnv(t)
	jr, err := env.Engine.CreateJobRequest(env.Ctx, engine.JobRequestCreateOptions{
		Actor:          buyer,
		Title:          "Inbox zero",
		Category:       "email_management",
		PreferredStart: "2024-01-02T09:00:00Z",
		DueAt:          "2024-01-03T00:00:00Z",
	})
	require.NoError(t, err)
	b := env.acceptedOffer(t, jr.ID, seller1)
	require.Equal(t, "2024-01-02T09:00:00Z", *b.ScheduledStart)
	require.NotNil(t, b.ScheduledEnd)
	require.Equal(t, "2024-01-03T00:00:00Z", *b.ScheduledEnd)

	_, err = env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept"})
	require.NoError(t, err)

	sweep, err := env.Engine.CompleteDueBookings(env.Ctx, 10)
	require.NoError(t, err)
	require.Zero(t, sweep.Due)

	env.advance(30 * 24 * time.Hour)
	sweep, err = env.Engine.CompleteDueBookings(env.Ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{b.ID}, sweep.Completed)

	got, err := env.Engine.GetBooking(env.Ctx, buyer, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BookingCompleted, got.Status)
	jr, err = env.Engine.GetJobRequest(env.Ctx, buyer, jr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestFulfilled, jr.Status)
}

func TestOfferBookingEndIgnoresDueBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	jr, err := env.Engine.CreateJobRequest(env.Ctx, engine.JobRequestCreateOptions{
		Actor:          buyer,
		Title:          "Inbox zero",
		Category:       "email_management",
		PreferredStart: "2024-01-05T09:00:00Z",
		DueAt:          "2024-01-03T00:00:00Z",
	})
	require.NoError(t, err)
	b := env.acceptedOffer(t, jr.ID, seller1)
	require.Nil(t, b.ScheduledEnd)
}

func TestJobRequestCancelCancelsPendingBooking(t *testing.T) {
	env := newTestEnv(t)
	s := env.slot(t, seller1, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), time.Hour)
	jr := env.jobRequest(t)
	b := env.acceptedOffer(t, jr.ID, seller1)

	jr, err := env.Engine.SetJobRequestStatus(env.Ctx, engine.JobRequestStatusOptions{Actor: buyer, ID: jr.ID, Status: "cancelled", Reason: "no longer needed"})
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestCancelled, jr.Status)

	got, err := env.Engine.GetBooking(env.Ctx, seller1, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BookingCancelled, got.Status)
	require.Equal(t, "Request cancelled: no longer needed", *got.CancelReason)

	_, err = env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept", SlotID: s.ID})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)
	slot, err := env.Engine.Repo.GetSlot(env.Ctx, s.ID)
	require.NoError(t, err)
	require.False(t, slot.IsBooked)

	var sawCancel bool
	for _, n := range env.inbox(t, seller1) {
		if n.Type == "booking.cancelled" && n.EntityID == b.ID {
			sawCancel = true
		}
	}
	require.True(t, sawCancel)
}

func TestJobRequestWithAcceptedBookingCannotBeRetired(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	b := env.acceptedOffer(t, jr.ID, seller1)
	_, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept"})
	require.NoError(t, err)

	_, err = env.Engine.SetJobRequestStatus(env.Ctx, engine.JobRequestStatusOptions{Actor: admin, ID: jr.ID, Status: "rejected"})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)

	jr, err = env.Engine.GetJobRequest(env.Ctx, admin, jr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestAssigned, jr.Status)
	got, err := env.Engine.GetBooking(env.Ctx, admin, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BookingAccepted, got.Status)
}

func TestCreateOffersAfterAcceptConflicts(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	env.acceptedOffer(t, jr.ID, seller1)

	_, err := env.Engine.CreateOffers(env.Ctx, engine.OfferCreateOptions{Actor: admin, RequestID: jr.ID, Offers: []engine.OfferInput{{SellerID: seller2.ID}}})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)

	offers, err := env.Engine.ListOffers(env.Ctx, admin, repo.OfferFilters{RequestID: jr.ID})
	require.NoError(t, err)
	require.Len(t, offers, 1)
}

func TestLosingOfferBookingCancelsJobRequest(t *testing.T) {
	env := newTestEnv(t)

	rejected := env.jobRequest(t)
	b := env.acceptedOffer(t, rejected.ID, seller1)
	_, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "reject"})
	require.NoError(t, err)
	jr, err := env.Engine.GetJobRequest(env.Ctx, buyer, rejected.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestCancelled, jr.Status)
	require.Equal(t, "Booking rejected by seller", *jr.Reason)

	_, err = env.Engine.CreateOffers(env.Ctx, engine.OfferCreateOptions{Actor: admin, RequestID: jr.ID, Offers: []engine.OfferInput{{SellerID: seller2.ID}}})
	var invalid engine.TransitionError
	require.ErrorAs(t, err, &invalid)

	cancelled := env.jobRequest(t)
	b = env.acceptedOffer(t, cancelled.ID, seller2)
	_, err = env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller2, ID: b.ID, Action: "accept"})
	require.NoError(t, err)
	_, err = env.Engine.CancelBooking(env.Ctx, engine.BookingCancelOptions{Actor: seller2, ID: b.ID, Reason: "fell ill this week"})
	require.NoError(t, err)
	jr, err = env.Engine.GetJobRequest(env.Ctx, buyer, cancelled.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobRequestCancelled, jr.Status)
	require.Equal(t, "Booking cancelled: Seller: fell ill this week", *jr.Reason)
}

func TestSellerReviewProfile(t *testing.T) {
	env := newTestEnv(t)
	empty, err := env.Engine.ListSellerReviews(env.Ctx, seller1.ID, 10)
	require.NoError(t, err)
	require.Zero(t, empty.TotalReviews)
	require.Empty(t, empty.Reviews)
	require.Nil(t, empty.AverageRating)

	for _, rating := range []int{5, 4, 4} {
		jr := env.jobRequest(t)
		b := env.acceptedOffer(t, jr.ID, seller1)
		_, err := env.Engine.RespondBooking(env.Ctx, engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept"})
		require.NoError(t, err)
		_, err = env.Engine.CompleteBooking(env.Ctx, engine.BookingCompleteOptions{Actor: admin, ID: b.ID})
		require.NoError(t, err)
		_, err = env.Engine.ReviewBooking(env.Ctx, engine.ReviewOptions{Actor: buyer, BookingID: b.ID, Rating: rating})
		require.NoError(t, err)
		env.advance(time.Minute)
	}

	profile, err := env.Engine.ListSellerReviews(env.Ctx, seller1.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 3, profile.TotalReviews)
	require.Len(t, profile.Reviews, 2)
	require.Equal(t, 4, profile.Reviews[0].Rating)
	require.Equal(t, "4.3", profile.AverageRating.String())

	_, err = env.Engine.ListSellerReviews(env.Ctx, " ", 10)
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRetryHasNoDuplicateSideEffects(t *testing.T) {
	env := newTestEnv(t)
	s := env.slot(t, seller1, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), time.Hour)
	b := env.directBooking(t, s.ID)
	opts := engine.BookingRespondOptions{Actor: seller1, ID: b.ID, Action: "accept", ExpectedStatus: domain.BookingPending}

	_, err := env.Engine.RespondBooking(env.Ctx, opts)
	require.NoError(t, err)
	before := len(env.inbox(t, buyer))

	_, err = env.Engine.RespondBooking(env.Ctx, opts)
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.BookingAccepted, conflict.Actual)

	require.Len(t, env.inbox(t, buyer), before)
	slot, err := env.Engine.Repo.GetSlot(env.Ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, *slot.BookingID)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GetBooking(env.Ctx, admin, "missing")
	require.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = env.Engine.RespondOffer(env.Ctx, engine.OfferRespondOptions{Actor: seller1, ID: "missing", Action: "accept"})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestNotificationInbox(t *testing.T) {
	env := newTestEnv(t)
	jr := env.jobRequest(t)
	env.offers(t, jr.ID, seller1.ID)

	items := env.inbox(t, seller1)
	require.Len(t, items, 1)
	require.Equal(t, "offer.created", items[0].Type)

	// Admins share one inbox; the creating buyer is never notified of their own action.
	adminItems := env.inbox(t, admin)
	require.NotEmpty(t, adminItems)
	for _, n := range env.inbox(t, buyer) {
		require.NotEqual(t, "job_request.created", n.Type)
	}

	n, err := env.Engine.UnreadCount(env.Ctx, seller1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = env.Engine.MarkNotificationRead(env.Ctx, seller2, items[0].ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	read, err := env.Engine.MarkNotificationRead(env.Ctx, seller1, items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
	n, err = env.Engine.UnreadCount(env.Ctx, seller1)
	require.NoError(t, err)
	require.Zero(t, n)

	evts, err := env.Engine.ListEvents(env.Ctx, admin, 10, 0, "", domain.KindJobRequest, jr.ID)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	_, err = env.Engine.ListEvents(env.Ctx, buyer, 10, 0, "", "", "")
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}
