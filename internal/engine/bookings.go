package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
	"bookline/internal/repo"
)

type BookingCreateOptions struct {
	Actor          auth.Actor `validate:"-"`
	SellerID       string     `validate:"required"`
	GigID          string
	SlotID         string
	Price          decimal.Decimal
	Requirements   string `validate:"max=5000"`
	ScheduledStart string
	ScheduledEnd   string
}

// CreateBooking is a buyer booking a seller directly. A referenced slot must
// be free now and supplies the schedule; it is only reserved once the seller
// accepts.
func (e Engine) CreateBooking(ctx context.Context, opts BookingCreateOptions) (domain.Booking, error) {
	if err := auth.CanCreate(opts.Actor, domain.KindBooking).Err(domain.KindBooking, domain.ActionCreate); err != nil {
		return domain.Booking{}, err
	}
	if err := e.check(opts); err != nil {
		return domain.Booking{}, err
	}
	if opts.Price.IsNegative() {
		return domain.Booking{}, ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if opts.SellerID == opts.Actor.ID {
		return domain.Booking{}, ValidationError{Field: "seller_id", Reason: "cannot book yourself"}
	}
	start, err := normalizeTime("scheduled_start", opts.ScheduledStart)
	if err != nil {
		return domain.Booking{}, err
	}
	end, err := normalizeTime("scheduled_end", opts.ScheduledEnd)
	if err != nil {
		return domain.Booking{}, err
	}
	if start != nil && end != nil && *end <= *start {
		return domain.Booking{}, ValidationError{Field: "scheduled_end", Reason: "must be after scheduled_start"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Booking{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	b := domain.Booking{
		ID:             uuid.NewString(),
		BuyerID:        opts.Actor.ID,
		SellerID:       opts.SellerID,
		GigID:          optionalString(opts.GigID),
		SlotID:         optionalString(opts.SlotID),
		Price:          opts.Price,
		Requirements:   opts.Requirements,
		ScheduledStart: start,
		ScheduledEnd:   end,
		Status:         domain.BookingPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if b.SlotID != nil {
		s, err := e.Repo.GetSlotTx(ctx, tx, *b.SlotID)
		if err != nil {
			return domain.Booking{}, storeErr(domain.KindSlot, *b.SlotID, err)
		}
		if s.SellerID != b.SellerID {
			return domain.Booking{}, SlotUnavailableError{SlotID: s.ID, Reason: "slot belongs to another seller"}
		}
		if s.IsBooked {
			return domain.Booking{}, SlotUnavailableError{SlotID: s.ID, Reason: "already booked"}
		}
		b.ScheduledStart, b.ScheduledEnd = &s.StartTime, &s.EndTime
	}
	if err := e.Repo.InsertBooking(ctx, tx, b); err != nil {
		return b, storeErr(domain.KindBooking, b.ID, err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "booking.created",
		EntityKind: domain.KindBooking,
		EntityID:   b.ID,
		ActorID:    opts.Actor.ID,
		NewStatus:  b.Status,
		Payload:    events.EventPayload{"price": b.Price.String(), "gig_id": opts.GigID},
		Recipients: []string{b.SellerID, domain.AdminInbox},
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

func (e Engine) GetBooking(ctx context.Context, actor auth.Actor, id string) (domain.Booking, error) {
	b, err := e.Repo.GetBooking(ctx, id)
	if err != nil {
		return b, storeErr(domain.KindBooking, id, err)
	}
	if err := auth.CanBooking(actor, domain.ActionRead, b).Err(domain.KindBooking, domain.ActionRead); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (e Engine) ListBookings(ctx context.Context, actor auth.Actor, f repo.BookingFilters) ([]domain.Booking, error) {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
	case domain.RoleBuyer:
		f.BuyerID = actor.ID
	case domain.RoleSeller:
		f.SellerID = actor.ID
	default:
		return nil, auth.ForbiddenError{Kind: domain.KindBooking, Action: domain.ActionRead, Reason: "role cannot list bookings"}
	}
	return e.Repo.ListBookings(ctx, f)
}

type BookingRespondOptions struct {
	Actor          auth.Actor `validate:"-"`
	ID             string     `validate:"required"`
	Action         string     `validate:"required,oneof=accept reject"`
	SlotID         string
	ExpectedStatus string
}

// RespondBooking is the seller accepting or rejecting a pending booking.
// Accepting reserves the booking's slot; a slot may be attached here when the
// booking has none yet. Rejecting a booking made from an offer cancels its
// job request.
func (e Engine) RespondBooking(ctx context.Context, opts BookingRespondOptions) (domain.Booking, error) {
	if err := e.check(opts); err != nil {
		return domain.Booking{}, err
	}
	action := domain.Action(opts.Action)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Booking{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBookingTx(ctx, tx, opts.ID)
	if err != nil {
		return b, storeErr(domain.KindBooking, opts.ID, err)
	}
	if err := auth.CanBooking(opts.Actor, action, b).Err(domain.KindBooking, action); err != nil {
		return domain.Booking{}, err
	}
	if err := expectStatus(domain.KindBooking, b.ID, opts.ExpectedStatus, b.Status); err != nil {
		return b, err
	}
	to, err := nextStatus(domain.KindBooking, b.ID, b.Status, action, opts.Actor.Role)
	if err != nil {
		return b, err
	}
	upd := repo.BookingStatusUpdate{ID: b.ID, From: b.Status, To: to, Version: b.Version, UpdatedAt: e.stamp()}
	payload := events.EventPayload{}
	if action == domain.ActionAccept {
		slotID := opts.SlotID
		if b.SlotID != nil {
			if slotID != "" && slotID != *b.SlotID {
				return b, ValidationError{Field: "slot_id", Reason: "booking already references another slot"}
			}
			slotID = *b.SlotID
		}
		if slotID != "" {
			s, err := e.reserveSlot(ctx, tx, b, slotID)
			if err != nil {
				return b, err
			}
			upd.SlotID = &s.ID
			upd.ScheduledStart, upd.ScheduledEnd = &s.StartTime, &s.EndTime
			payload["slot_id"] = s.ID
		}
	} else {
		if _, err := e.releaseSlot(ctx, tx, b); err != nil {
			return b, err
		}
	}
	if err := e.Repo.UpdateBookingStatus(ctx, tx, upd); err != nil {
		return b, storeErr(domain.KindBooking, b.ID, err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "booking." + to,
		EntityKind: domain.KindBooking,
		EntityID:   b.ID,
		ActorID:    opts.Actor.ID,
		OldStatus:  b.Status,
		NewStatus:  to,
		Payload:    payload,
		Recipients: []string{b.BuyerID, domain.AdminInbox},
	}); err != nil {
		return b, err
	}
	if to == domain.BookingRejected {
		if err := e.retireOfferRequest(ctx, tx, b, opts.Actor, "Booking rejected by seller"); err != nil {
			return b, err
		}
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return e.Repo.GetBooking(ctx, b.ID)
}

type BookingCancelOptions struct {
	Actor          auth.Actor `validate:"-"`
	ID             string     `validate:"required"`
	Reason         string
	ExpectedStatus string
}

// CancelBooking cancels a booking with a mandatory reason. Buyers may cancel
// only while pending; sellers and admins also once accepted, and their reason
// is stored with a role prefix. The slot is released, and a job request the
// booking was made for is cancelled with it.
func (e Engine) CancelBooking(ctx context.Context, opts BookingCancelOptions) (domain.Booking, error) {
	if err := e.check(opts); err != nil {
		return domain.Booking{}, err
	}
	reason := strings.TrimSpace(opts.Reason)
	if minLen := e.policy().CancelReasonMinLength; utf8.RuneCountInString(reason) < minLen {
		return domain.Booking{}, ValidationError{Field: "reason", Reason: fmt.Sprintf("must be at least %d characters", minLen)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Booking{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBookingTx(ctx, tx, opts.ID)
	if err != nil {
		return b, storeErr(domain.KindBooking, opts.ID, err)
	}
	if err := auth.CanBooking(opts.Actor, domain.ActionCancel, b).Err(domain.KindBooking, domain.ActionCancel); err != nil {
		return domain.Booking{}, err
	}
	if err := expectStatus(domain.KindBooking, b.ID, opts.ExpectedStatus, b.Status); err != nil {
		return b, err
	}
	if _, err := nextStatus(domain.KindBooking, b.ID, b.Status, domain.ActionCancel, opts.Actor.Role); err != nil {
		return b, err
	}
	switch opts.Actor.Role {
	case domain.RoleSeller:
		reason = "Seller: " + reason
	case domain.RoleAdmin:
		reason = "Admin: " + reason
	}
	b, err = e.cancelBookingTx(ctx, tx, b, opts.Actor, reason)
	if err != nil {
		return b, err
	}
	if err := e.retireOfferRequest(ctx, tx, b, opts.Actor, "Booking cancelled: "+reason); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return e.Repo.GetBooking(ctx, b.ID)
}

// cancelBookingTx moves a pending or accepted booking to cancelled, releasing
// its slot. The caller has already checked the transition.
func (e Engine) cancelBookingTx(ctx context.Context, tx *sql.Tx, b domain.Booking, actor auth.Actor, reason string) (domain.Booking, error) {
	released, err := e.releaseSlot(ctx, tx, b)
	if err != nil {
		return b, err
	}
	if err := e.Repo.UpdateBookingStatus(ctx, tx, repo.BookingStatusUpdate{
		ID: b.ID, From: b.Status, To: domain.BookingCancelled, Version: b.Version, CancelReason: &reason, UpdatedAt: e.stamp(),
	}); err != nil {
		return b, storeErr(domain.KindBooking, b.ID, err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "booking.cancelled",
		EntityKind: domain.KindBooking,
		EntityID:   b.ID,
		ActorID:    actor.ID,
		OldStatus:  b.Status,
		NewStatus:  domain.BookingCancelled,
		Payload:    events.EventPayload{"reason": reason, "slot_released": released},
		Recipients: []string{b.BuyerID, b.SellerID, domain.AdminInbox},
	}); err != nil {
		return b, err
	}
	return b, nil
}

type BookingCompleteOptions struct {
	Actor          auth.Actor `validate:"-"`
	ID             string     `validate:"required"`
	ExpectedStatus string
}

// CompleteBooking moves an accepted booking to completed. The system actor may
// only do so once the scheduled end has passed; admins may override. When the
// booking came from an offer, the job request is fulfilled with it.
func (e Engine) CompleteBooking(ctx context.Context, opts BookingCompleteOptions) (domain.Booking, error) {
	if err := e.check(opts); err != nil {
		return domain.Booking{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Booking{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBookingTx(ctx, tx, opts.ID)
	if err != nil {
		return b, storeErr(domain.KindBooking, opts.ID, err)
	}
	if err := auth.CanBooking(opts.Actor, domain.ActionComplete, b).Err(domain.KindBooking, domain.ActionComplete); err != nil {
		return domain.Booking{}, err
	}
	if err := expectStatus(domain.KindBooking, b.ID, opts.ExpectedStatus, b.Status); err != nil {
		return b, err
	}
	to, err := nextStatus(domain.KindBooking, b.ID, b.Status, domain.ActionComplete, opts.Actor.Role)
	if err != nil {
		return b, err
	}
	now := e.stamp()
	if opts.Actor.Role == domain.RoleSystem && (b.ScheduledEnd == nil || *b.ScheduledEnd > now) {
		return b, ValidationError{Field: "scheduled_end", Reason: "booking has not ended yet"}
	}
	if err := e.Repo.UpdateBookingStatus(ctx, tx, repo.BookingStatusUpdate{
		ID: b.ID, From: b.Status, To: to, Version: b.Version, CompletedAt: &now, UpdatedAt: now,
	}); err != nil {
		return b, storeErr(domain.KindBooking, b.ID, err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "booking.completed",
		EntityKind: domain.KindBooking,
		EntityID:   b.ID,
		ActorID:    opts.Actor.ID,
		OldStatus:  b.Status,
		NewStatus:  to,
		Recipients: []string{b.BuyerID, b.SellerID, domain.AdminInbox},
	}); err != nil {
		return b, err
	}
	jr, ok, err := e.offerRequestTx(ctx, tx, b)
	if err != nil {
		return b, err
	}
	if ok && jr.Status == domain.JobRequestAssigned {
		if err := e.advanceJobRequest(ctx, tx, jr, domain.ActionFulfill, opts.Actor, "", events.EventPayload{"booking_id": b.ID}); err != nil {
			return b, err
		}
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return e.Repo.GetBooking(ctx, b.ID)
}

type ReviewOptions struct {
	Actor     auth.Actor `validate:"-"`
	BookingID string     `validate:"required"`
	Rating    int        `validate:"min=1,max=5"`
	Comment   string
}

// ReviewBooking records the buyer's single review of a completed booking.
func (e Engine) ReviewBooking(ctx context.Context, opts ReviewOptions) (domain.Review, error) {
	if err := e.check(opts); err != nil {
		return domain.Review{}, err
	}
	comment := strings.TrimSpace(opts.Comment)
	if maxLen := e.policy().ReviewCommentMaxLength; utf8.RuneCountInString(comment) > maxLen {
		return domain.Review{}, ValidationError{Field: "comment", Reason: fmt.Sprintf("must be at most %d characters", maxLen)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBookingTx(ctx, tx, opts.BookingID)
	if err != nil {
		return domain.Review{}, storeErr(domain.KindBooking, opts.BookingID, err)
	}
	if err := auth.CanBooking(opts.Actor, domain.ActionReview, b).Err(domain.KindBooking, domain.ActionReview); err != nil {
		return domain.Review{}, err
	}
	if _, err := nextStatus(domain.KindBooking, b.ID, b.Status, domain.ActionReview, opts.Actor.Role); err != nil {
		return domain.Review{}, err
	}
	if b.Reviewed {
		return domain.Review{}, ConflictError{Kind: domain.KindBooking, ID: b.ID, Actual: "already reviewed"}
	}
	now := e.stamp()
	if err := e.Repo.MarkBookingReviewed(ctx, tx, b.ID, b.Version, now); err != nil {
		return domain.Review{}, storeErr(domain.KindBooking, b.ID, err)
	}
	rv := domain.Review{
		ID:         uuid.NewString(),
		BookingID:  b.ID,
		ReviewerID: b.BuyerID,
		ReviewedID: b.SellerID,
		Rating:     opts.Rating,
		Comment:    optionalString(comment),
		CreatedAt:  now,
	}
	if err := e.Repo.InsertReview(ctx, tx, rv); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Review{}, ConflictError{Kind: domain.KindBooking, ID: b.ID, Actual: "already reviewed"}
		}
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "review.created",
		EntityKind: domain.KindReview,
		EntityID:   rv.ID,
		ActorID:    opts.Actor.ID,
		Payload:    events.EventPayload{"booking_id": b.ID, "rating": rv.Rating},
		Recipients: []string{b.SellerID, domain.AdminInbox},
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}

func (e Engine) GetReview(ctx context.Context, actor auth.Actor, bookingID string) (domain.Review, error) {
	if _, err := e.GetBooking(ctx, actor, bookingID); err != nil {
		return domain.Review{}, err
	}
	rv, err := e.Repo.GetReviewByBooking(ctx, bookingID)
	if err != nil {
		return rv, storeErr(domain.KindReview, bookingID, err)
	}
	return rv, nil
}

// SellerReviews is the public review profile of a user.
type SellerReviews struct {
	SellerID      string           `json:"seller_id"`
	Reviews       []domain.Review  `json:"reviews"`
	AverageRating *decimal.Decimal `json:"average_rating"`
	TotalReviews  int              `json:"total_reviews"`
}

// ListSellerReviews returns the newest reviews a user received and the
// average rating, rounded to one decimal, over all of them.
func (e Engine) ListSellerReviews(ctx context.Context, sellerID string, limit int) (SellerReviews, error) {
	if strings.TrimSpace(sellerID) == "" {
		return SellerReviews{}, ValidationError{Field: "seller_id", Reason: "required"}
	}
	reviews, err := e.Repo.ListReviewsFor(ctx, sellerID, limit)
	if err != nil {
		return SellerReviews{}, err
	}
	count, sum, err := e.Repo.ReviewStatsFor(ctx, sellerID)
	if err != nil {
		return SellerReviews{}, err
	}
	out := SellerReviews{SellerID: sellerID, Reviews: reviews, TotalReviews: count}
	if out.Reviews == nil {
		out.Reviews = []domain.Review{}
	}
	if count > 0 {
		avg := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(count))).Round(1)
		out.AverageRating = &avg
	}
	return out, nil
}
