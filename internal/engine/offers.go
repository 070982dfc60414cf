package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
	"bookline/internal/repo"
)

type OfferInput struct {
	SellerID     string `validate:"required"`
	OfferedPrice *decimal.Decimal
	OfferedStart string
	Message      string `validate:"max=2000"`
}

type OfferCreateOptions struct {
	Actor     auth.Actor   `validate:"-"`
	RequestID string       `validate:"required"`
	Offers    []OfferInput `validate:"required,min=1,max=50,dive"`
}

// CreateOffers sends one offer per seller for a job request. The first offer
// moves the request from open to assigned; once an offer was accepted the
// request takes no more.
func (e Engine) CreateOffers(ctx context.Context, opts OfferCreateOptions) ([]domain.Offer, error) {
	if err := auth.CanCreate(opts.Actor, domain.KindOffer).Err(domain.KindOffer, domain.ActionCreate); err != nil {
		return nil, err
	}
	if err := e.check(opts); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for i, in := range opts.Offers {
		if seen[in.SellerID] {
			return nil, ValidationError{Field: fmt.Sprintf("offers[%d].seller_id", i), Reason: "duplicate seller"}
		}
		seen[in.SellerID] = true
		if in.OfferedPrice != nil && in.OfferedPrice.IsNegative() {
			return nil, ValidationError{Field: fmt.Sprintf("offers[%d].offered_price", i), Reason: "must not be negative"}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	jr, err := e.Repo.GetJobRequestTx(ctx, tx, opts.RequestID)
	if err != nil {
		return nil, storeErr(domain.KindJobRequest, opts.RequestID, err)
	}
	if jr.Status != domain.JobRequestOpen && jr.Status != domain.JobRequestAssigned {
		return nil, TransitionError{Kind: domain.KindJobRequest, From: jr.Status, Action: domain.ActionAssign}
	}
	accepted, err := e.Repo.CountOffersTx(ctx, tx, jr.ID, domain.OfferAccepted)
	if err != nil {
		return nil, err
	}
	if accepted > 0 {
		return nil, ConflictError{Kind: domain.KindJobRequest, ID: jr.ID, Actual: "offer already accepted"}
	}
	now := e.stamp()
	out := make([]domain.Offer, 0, len(opts.Offers))
	for i, in := range opts.Offers {
		start, err := normalizeTime(fmt.Sprintf("offers[%d].offered_start", i), in.OfferedStart)
		if err != nil {
			return nil, err
		}
		o := domain.Offer{
			ID:           uuid.NewString(),
			RequestID:    jr.ID,
			SellerID:     in.SellerID,
			AdminID:      opts.Actor.ID,
			OfferedPrice: in.OfferedPrice,
			OfferedStart: start,
			Message:      optionalString(in.Message),
			Status:       domain.OfferPending,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertOffer(ctx, tx, o); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return nil, ConflictError{Kind: domain.KindOffer, ID: in.SellerID, Actual: "seller already has a pending offer for this request"}
			}
			return nil, fmt.Errorf("insert offer: %w", err)
		}
		if err := e.journal().Append(ctx, tx, events.Change{
			Type:       "offer.created",
			EntityKind: domain.KindOffer,
			EntityID:   o.ID,
			ActorID:    opts.Actor.ID,
			NewStatus:  o.Status,
			Payload:    events.EventPayload{"request_id": jr.ID, "title": jr.Title},
			Recipients: []string{o.SellerID},
		}); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if jr.Status == domain.JobRequestOpen {
		if err := e.advanceJobRequest(ctx, tx, jr, domain.ActionAssign, opts.Actor, "", events.EventPayload{"offers": len(out)}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e Engine) GetOffer(ctx context.Context, actor auth.Actor, id string) (domain.Offer, error) {
	o, err := e.Repo.GetOffer(ctx, id)
	if err != nil {
		return o, storeErr(domain.KindOffer, id, err)
	}
	jr, err := e.Repo.GetJobRequest(ctx, o.RequestID)
	if err != nil {
		return domain.Offer{}, storeErr(domain.KindJobRequest, o.RequestID, err)
	}
	if err := auth.CanOffer(actor, domain.ActionRead, auth.OfferFacts{Offer: o, RequestBuyerID: jr.BuyerID}).Err(domain.KindOffer, domain.ActionRead); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// ListOffers scopes sellers to offers addressed to them and buyers to offers
// on one of their own requests.
func (e Engine) ListOffers(ctx context.Context, actor auth.Actor, f repo.OfferFilters) ([]domain.Offer, error) {
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleSeller:
		f.SellerID = actor.ID
	case domain.RoleBuyer:
		if f.RequestID == "" {
			return nil, ValidationError{Field: "request_id", Reason: "buyers list offers per job request"}
		}
		if _, err := e.GetJobRequest(ctx, actor, f.RequestID); err != nil {
			return nil, err
		}
	default:
		return nil, auth.ForbiddenError{Kind: domain.KindOffer, Action: domain.ActionRead, Reason: "role cannot list offers"}
	}
	return e.Repo.ListOffers(ctx, f)
}

type OfferRespondOptions struct {
	Actor          auth.Actor `validate:"-"`
	ID             string     `validate:"required"`
	Action         string     `validate:"required,oneof=accept reject"`
	ExpectedStatus string
}

// OfferResult is the outcome of an offer response. Booking is set on accept.
type OfferResult struct {
	Offer   domain.Offer    `json:"offer"`
	Booking *domain.Booking `json:"booking,omitempty"`
}

// RespondOffer lets the addressed seller accept or reject an offer.
//
// Accepting creates a pending booking for the request's buyer and, under the
// first-accept-wins policy, rejects every sibling offer still pending. Once a
// sibling has been accepted this offer can no longer be, and the call fails
// with a ConflictError leaving it pending.
func (e Engine) RespondOffer(ctx context.Context, opts OfferRespondOptions) (OfferResult, error) {
	if err := e.check(opts); err != nil {
		return OfferResult{}, err
	}
	action := domain.Action(opts.Action)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OfferResult{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOfferTx(ctx, tx, opts.ID)
	if err != nil {
		return OfferResult{}, storeErr(domain.KindOffer, opts.ID, err)
	}
	jr, err := e.Repo.GetJobRequestTx(ctx, tx, o.RequestID)
	if err != nil {
		return OfferResult{}, storeErr(domain.KindJobRequest, o.RequestID, err)
	}
	if err := auth.CanOffer(opts.Actor, action, auth.OfferFacts{Offer: o, RequestBuyerID: jr.BuyerID}).Err(domain.KindOffer, action); err != nil {
		return OfferResult{}, err
	}
	if err := expectStatus(domain.KindOffer, o.ID, opts.ExpectedStatus, o.Status); err != nil {
		return OfferResult{}, err
	}
	to, err := nextStatus(domain.KindOffer, o.ID, o.Status, action, opts.Actor.Role)
	if err != nil {
		return OfferResult{}, err
	}

	var res OfferResult
	if action == domain.ActionAccept {
		b, err := e.acceptOffer(ctx, tx, o, jr, opts.Actor)
		if err != nil {
			return OfferResult{}, err
		}
		res.Booking = &b
	} else {
		if err := e.resolveOffer(ctx, tx, o, to, nil, opts.Actor, "offer.rejected", []string{domain.AdminInbox}); err != nil {
			return OfferResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return OfferResult{}, err
	}
	res.Offer, err = e.Repo.GetOffer(ctx, o.ID)
	return res, err
}

func (e Engine) acceptOffer(ctx context.Context, tx *sql.Tx, o domain.Offer, jr domain.JobRequest, actor auth.Actor) (domain.Booking, error) {
	if jr.Status != domain.JobRequestOpen && jr.Status != domain.JobRequestAssigned {
		return domain.Booking{}, ConflictError{Kind: domain.KindJobRequest, ID: jr.ID, Actual: jr.Status}
	}
	accepted, err := e.Repo.CountOffersTx(ctx, tx, jr.ID, domain.OfferAccepted)
	if err != nil {
		return domain.Booking{}, err
	}
	if accepted > 0 {
		return domain.Booking{}, ConflictError{Kind: domain.KindJobRequest, ID: jr.ID, Actual: "offer already accepted"}
	}

	now := e.stamp()
	price := decimal.Zero
	switch {
	case o.OfferedPrice != nil:
		price = *o.OfferedPrice
	case jr.Budget != nil:
		price = *jr.Budget
	}
	start := o.OfferedStart
	if start == nil {
		start = jr.PreferredStart
	}
	end := jr.DueAt
	if start != nil && end != nil && *end <= *start {
		end = nil
	}
	offerID := o.ID
	b := domain.Booking{
		ID:             uuid.NewString(),
		BuyerID:        jr.BuyerID,
		SellerID:       o.SellerID,
		OfferID:        &offerID,
		Price:          price,
		Requirements:   strings.TrimSpace(jr.Title + "\n\n" + jr.Description),
		ScheduledStart: start,
		ScheduledEnd:   end,
		Status:         domain.BookingPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertBooking(ctx, tx, b); err != nil {
		return b, storeErr(domain.KindBooking, b.ID, err)
	}
	if err := e.resolveOffer(ctx, tx, o, domain.OfferAccepted, &b.ID, actor, "offer.accepted", []string{jr.BuyerID, domain.AdminInbox}); err != nil {
		return b, err
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "booking.created",
		EntityKind: domain.KindBooking,
		EntityID:   b.ID,
		ActorID:    actor.ID,
		NewStatus:  b.Status,
		Payload:    events.EventPayload{"offer_id": o.ID, "request_id": jr.ID, "price": b.Price.String()},
		Recipients: []string{b.BuyerID, b.SellerID, domain.AdminInbox},
	}); err != nil {
		return b, err
	}
	if e.policy().FirstAcceptWins {
		if err := e.rejectPendingOffers(ctx, tx, jr.ID, o.ID, actor, "offer.superseded"); err != nil {
			return b, err
		}
	}
	if jr.Status == domain.JobRequestOpen {
		if err := e.advanceJobRequest(ctx, tx, jr, domain.ActionAssign, actor, "", events.EventPayload{"offer_id": o.ID}); err != nil {
			return b, err
		}
	}
	return b, nil
}

type OfferWithdrawOptions struct {
	Actor          auth.Actor `validate:"-"`
	ID             string     `validate:"required"`
	ExpectedStatus string
}

// WithdrawOffer lets an admin take back an offer before the seller answers.
func (e Engine) WithdrawOffer(ctx context.Context, opts OfferWithdrawOptions) (domain.Offer, error) {
	if err := e.check(opts); err != nil {
		return domain.Offer{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOfferTx(ctx, tx, opts.ID)
	if err != nil {
		return o, storeErr(domain.KindOffer, opts.ID, err)
	}
	if err := auth.CanOffer(opts.Actor, domain.ActionWithdraw, auth.OfferFacts{Offer: o}).Err(domain.KindOffer, domain.ActionWithdraw); err != nil {
		return domain.Offer{}, err
	}
	if err := expectStatus(domain.KindOffer, o.ID, opts.ExpectedStatus, o.Status); err != nil {
		return o, err
	}
	to, err := nextStatus(domain.KindOffer, o.ID, o.Status, domain.ActionWithdraw, opts.Actor.Role)
	if err != nil {
		return o, err
	}
	if err := e.resolveOffer(ctx, tx, o, to, nil, opts.Actor, "offer.withdrawn", []string{o.SellerID, domain.AdminInbox}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return e.Repo.GetOffer(ctx, o.ID)
}

func (e Engine) resolveOffer(ctx context.Context, tx *sql.Tx, o domain.Offer, to string, bookingID *string, actor auth.Actor, evtType string, recipients []string) error {
	if err := e.Repo.UpdateOfferStatus(ctx, tx, repo.OfferStatusUpdate{
		ID: o.ID, From: o.Status, To: to, Version: o.Version, BookingID: bookingID, UpdatedAt: e.stamp(),
	}); err != nil {
		return storeErr(domain.KindOffer, o.ID, err)
	}
	payload := events.EventPayload{"request_id": o.RequestID, "seller_id": o.SellerID}
	if bookingID != nil {
		payload["booking_id"] = *bookingID
	}
	return e.journal().Append(ctx, tx, events.Change{
		Type:       evtType,
		EntityKind: domain.KindOffer,
		EntityID:   o.ID,
		ActorID:    actor.ID,
		OldStatus:  o.Status,
		NewStatus:  to,
		Payload:    payload,
		Recipients: recipients,
	})
}

// rejectPendingOffers rejects every pending offer on a request except keep.
func (e Engine) rejectPendingOffers(ctx context.Context, tx *sql.Tx, requestID, keep string, actor auth.Actor, cause string) error {
	pending, err := e.Repo.ListOffersTx(ctx, tx, repo.OfferFilters{RequestID: requestID, Status: domain.OfferPending})
	if err != nil {
		return err
	}
	n := 0
	for _, o := range pending {
		if o.ID == keep {
			continue
		}
		if err := e.resolveOffer(ctx, tx, o, domain.OfferRejected, nil, actor, "offer.rejected", []string{o.SellerID}); err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		e.logger().WithFields(logrus.Fields{"request_id": requestID, "cause": cause, "count": n}).Debug("pending offers rejected")
	}
	return nil
}
