package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
	"bookline/internal/repo"
)

type JobRequestCreateOptions struct {
	Actor          auth.Actor `validate:"-"`
	Title          string     `validate:"required,max=200"`
	Description    string     `validate:"max=5000"`
	Category       string     `validate:"required,max=100"`
	Budget         *decimal.Decimal
	PreferredStart string
	DueAt          string
}

func (e Engine) CreateJobRequest(ctx context.Context, opts JobRequestCreateOptions) (domain.JobRequest, error) {
	if err := auth.CanCreate(opts.Actor, domain.KindJobRequest).Err(domain.KindJobRequest, domain.ActionCreate); err != nil {
		return domain.JobRequest{}, err
	}
	if err := e.check(opts); err != nil {
		return domain.JobRequest{}, err
	}
	if opts.Budget != nil && opts.Budget.IsNegative() {
		return domain.JobRequest{}, ValidationError{Field: "budget", Reason: "must not be negative"}
	}
	start, err := normalizeTime("preferred_start", opts.PreferredStart)
	if err != nil {
		return domain.JobRequest{}, err
	}
	due, err := normalizeTime("due_at", opts.DueAt)
	if err != nil {
		return domain.JobRequest{}, err
	}
	now := e.stamp()
	jr := domain.JobRequest{
		ID:             uuid.NewString(),
		BuyerID:        opts.Actor.ID,
		Title:          opts.Title,
		Description:    opts.Description,
		Category:       opts.Category,
		Budget:         opts.Budget,
		PreferredStart: start,
		DueAt:          due,
		Status:         domain.JobRequestOpen,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JobRequest{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertJobRequest(ctx, tx, jr); err != nil {
		return domain.JobRequest{}, fmt.Errorf("insert job request: %w", err)
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "job_request.created",
		EntityKind: domain.KindJobRequest,
		EntityID:   jr.ID,
		ActorID:    opts.Actor.ID,
		NewStatus:  jr.Status,
		Payload:    events.EventPayload{"category": jr.Category, "title": jr.Title},
		Recipients: []string{domain.AdminInbox},
	}); err != nil {
		return domain.JobRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.JobRequest{}, err
	}
	return jr, nil
}

func (e Engine) GetJobRequest(ctx context.Context, actor auth.Actor, id string) (domain.JobRequest, error) {
	jr, err := e.Repo.GetJobRequest(ctx, id)
	if err != nil {
		return jr, storeErr(domain.KindJobRequest, id, err)
	}
	if err := auth.CanJobRequest(actor, domain.ActionRead, jr).Err(domain.KindJobRequest, domain.ActionRead); err != nil {
		return domain.JobRequest{}, err
	}
	return jr, nil
}

// ListJobRequests scopes buyers to their own requests. Admins see everything.
func (e Engine) ListJobRequests(ctx context.Context, actor auth.Actor, f repo.JobRequestFilters) ([]domain.JobRequest, error) {
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleBuyer:
		f.BuyerID = actor.ID
	default:
		return nil, auth.ForbiddenError{Kind: domain.KindJobRequest, Action: domain.ActionRead, Reason: "only buyers and admins list job requests"}
	}
	return e.Repo.ListJobRequests(ctx, f)
}

type JobRequestStatusOptions struct {
	Actor          auth.Actor `validate:"-"`
	ID             string     `validate:"required"`
	Status         string     `validate:"required,oneof=rejected cancelled"`
	Reason         string     `validate:"max=1000"`
	ExpectedStatus string
}

// SetJobRequestStatus retires a job request. Its pending offers are rejected
// and a pending booking made from its accepted offer is cancelled in the same
// transaction. Once that booking is accepted the request can no longer be
// retired this way; the booking has to be cancelled first.
func (e Engine) SetJobRequestStatus(ctx context.Context, opts JobRequestStatusOptions) (domain.JobRequest, error) {
	if err := e.check(opts); err != nil {
		return domain.JobRequest{}, err
	}
	action := domain.ActionReject
	if opts.Status == domain.JobRequestCancelled {
		action = domain.ActionCancel
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JobRequest{}, err
	}
	defer tx.Rollback()

	jr, err := e.Repo.GetJobRequestTx(ctx, tx, opts.ID)
	if err != nil {
		return jr, storeErr(domain.KindJobRequest, opts.ID, err)
	}
	if err := auth.CanJobRequest(opts.Actor, action, jr).Err(domain.KindJobRequest, action); err != nil {
		return domain.JobRequest{}, err
	}
	if err := expectStatus(domain.KindJobRequest, jr.ID, opts.ExpectedStatus, jr.Status); err != nil {
		return jr, err
	}
	to, err := nextStatus(domain.KindJobRequest, jr.ID, jr.Status, action, opts.Actor.Role)
	if err != nil {
		return jr, err
	}
	live, err := e.Repo.LiveOfferBookingTx(ctx, tx, jr.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return jr, err
	case live.Status != domain.BookingPending:
		return jr, ConflictError{Kind: domain.KindJobRequest, ID: jr.ID, Actual: "booking " + live.ID + " already " + live.Status}
	}
	now := e.stamp()
	old := jr.Status
	if err := e.Repo.UpdateJobRequestStatus(ctx, tx, repo.JobRequestStatusUpdate{
		ID: jr.ID, From: old, To: to, Version: jr.Version, Reason: optionalString(opts.Reason), UpdatedAt: now,
	}); err != nil {
		return jr, storeErr(domain.KindJobRequest, jr.ID, err)
	}
	if err := e.rejectPendingOffers(ctx, tx, jr.ID, "", opts.Actor, "job_request."+to); err != nil {
		return jr, err
	}
	if live.Status == domain.BookingPending {
		reason := "Request " + to
		if r := strings.TrimSpace(opts.Reason); r != "" {
			reason += ": " + r
		}
		if _, err := e.cancelBookingTx(ctx, tx, live, opts.Actor, reason); err != nil {
			return jr, err
		}
	}
	if err := e.journal().Append(ctx, tx, events.Change{
		Type:       "job_request." + to,
		EntityKind: domain.KindJobRequest,
		EntityID:   jr.ID,
		ActorID:    opts.Actor.ID,
		OldStatus:  old,
		NewStatus:  to,
		Payload:    events.EventPayload{"reason": opts.Reason},
		Recipients: []string{jr.BuyerID, domain.AdminInbox},
	}); err != nil {
		return jr, err
	}
	if err := tx.Commit(); err != nil {
		return jr, err
	}
	return e.Repo.GetJobRequest(ctx, jr.ID)
}

// advanceJobRequest applies a system-driven job request transition inside an
// existing transaction (first offer, booking completion or loss).
func (e Engine) advanceJobRequest(ctx context.Context, tx *sql.Tx, jr domain.JobRequest, action domain.Action, actor auth.Actor, reason string, payload events.EventPayload) error {
	to, err := nextStatus(domain.KindJobRequest, jr.ID, jr.Status, action, actor.Role)
	if err != nil {
		return err
	}
	if err := e.Repo.UpdateJobRequestStatus(ctx, tx, repo.JobRequestStatusUpdate{
		ID: jr.ID, From: jr.Status, To: to, Version: jr.Version, Reason: optionalString(reason), UpdatedAt: e.stamp(),
	}); err != nil {
		return storeErr(domain.KindJobRequest, jr.ID, err)
	}
	return e.journal().Append(ctx, tx, events.Change{
		Type:       "job_request." + to,
		EntityKind: domain.KindJobRequest,
		EntityID:   jr.ID,
		ActorID:    actor.ID,
		OldStatus:  jr.Status,
		NewStatus:  to,
		Payload:    payload,
		Recipients: []string{jr.BuyerID, domain.AdminInbox},
	})
}

// offerRequestTx resolves the job request behind a booking made from an
// offer. ok is false for direct bookings.
func (e Engine) offerRequestTx(ctx context.Context, tx *sql.Tx, b domain.Booking) (jr domain.JobRequest, ok bool, err error) {
	if b.OfferID == nil {
		return jr, false, nil
	}
	o, err := e.Repo.GetOfferTx(ctx, tx, *b.OfferID)
	if err != nil {
		return jr, false, storeErr(domain.KindOffer, *b.OfferID, err)
	}
	jr, err = e.Repo.GetJobRequestTx(ctx, tx, o.RequestID)
	if err != nil {
		return jr, false, storeErr(domain.KindJobRequest, o.RequestID, err)
	}
	return jr, true, nil
}

// retireOfferRequest cancels the still assigned job request of a booking that
// ended without completing. The accepted offer keeps the request from being
// offered again, so the buyer posts a new one.
func (e Engine) retireOfferRequest(ctx context.Context, tx *sql.Tx, b domain.Booking, actor auth.Actor, reason string) error {
	jr, ok, err := e.offerRequestTx(ctx, tx, b)
	if err != nil || !ok || jr.Status != domain.JobRequestAssigned {
		return err
	}
	return e.advanceJobRequest(ctx, tx, jr, domain.ActionCancel, actor, reason, events.EventPayload{"booking_id": b.ID, "reason": reason})
}
