package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"bookline/internal/engine"
	"bookline/internal/repo"
)

type bookingOutput struct {
	Body BookingResponse `json:"body"`
}

type reviewOutput struct {
	Body ReviewResponse `json:"body"`
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerBookings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-booking",
		Method:        http.MethodPost,
		Path:          "/bookings",
		Summary:       "Book a seller directly",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateBookingRequest `json:"body"`
	}) (*bookingOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBooking(ctx, engine.BookingCreateOptions{
			Actor:          actor,
			SellerID:       input.Body.SellerID,
			GigID:          stringOrEmpty(input.Body.GigID),
			SlotID:         stringOrEmpty(input.Body.SlotID),
			Price:          decimal.NewFromFloat(input.Body.Price),
			Requirements:   stringOrEmpty(input.Body.Requirements),
			ScheduledStart: stringOrEmpty(input.Body.ScheduledStart),
			ScheduledEnd:   stringOrEmpty(input.Body.ScheduledEnd),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bookingOutput{Body: bookingResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bookings",
		Method:      http.MethodGet,
		Path:        "/bookings",
		Summary:     "List bookings",
		Description: "Buyers and sellers see their own bookings; admins see all.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending,accepted,rejected,completed,cancelled"`
		BuyerID  string `query:"buyer_id"`
		SellerID string `query:"seller_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedBookings `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, limit, perr := page(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListBookings(ctx, actor, repo.BookingFilters{
			BuyerID:  input.BuyerID,
			SellerID: input.SellerID,
			Status:   input.Status,
			Page:     p,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedBookings{Items: []BookingResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapBookings(items)
		return &struct {
			Body paginatedBookings `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-booking",
		Method:      http.MethodGet,
		Path:        "/bookings/{id}",
		Summary:     "Get booking",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bookingOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBooking(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bookingOutput{Body: bookingResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-booking",
		Method:      http.MethodPatch,
		Path:        "/bookings/{id}/respond",
		Summary:     "Accept or reject a booking",
		Description: "Accepting reserves the booking's slot. slot_id attaches one of the seller's free slots when the booking has none.",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID             string                `path:"id"`
		ExpectedStatus string                `query:"expected_status"`
		Body           RespondBookingRequest `json:"body"`
	}) (*bookingOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.RespondBooking(ctx, engine.BookingRespondOptions{
			Actor:          actor,
			ID:             input.ID,
			Action:         input.Body.Action,
			SlotID:         stringOrEmpty(input.Body.SlotID),
			ExpectedStatus: input.ExpectedStatus,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bookingOutput{Body: bookingResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-booking",
		Method:      http.MethodPatch,
		Path:        "/bookings/{id}/cancel",
		Summary:     "Cancel a booking",
		Description: "Buyers may cancel while pending; sellers and admins also once accepted.",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID             string               `path:"id"`
		ExpectedStatus string               `query:"expected_status"`
		Body           CancelBookingRequest `json:"body"`
	}) (*bookingOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CancelBooking(ctx, engine.BookingCancelOptions{
			Actor:          actor,
			ID:             input.ID,
			Reason:         input.Body.Reason,
			ExpectedStatus: input.ExpectedStatus,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bookingOutput{Body: bookingResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-booking",
		Method:      http.MethodPatch,
		Path:        "/bookings/{id}/complete",
		Summary:     "Complete an accepted booking (admin override)",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID             string `path:"id"`
		ExpectedStatus string `query:"expected_status"`
	}) (*bookingOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CompleteBooking(ctx, engine.BookingCompleteOptions{
			Actor:          actor,
			ID:             input.ID,
			ExpectedStatus: input.ExpectedStatus,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bookingOutput{Body: bookingResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "review-booking",
		Method:        http.MethodPost,
		Path:          "/bookings/{id}/review",
		Summary:       "Review a completed booking",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*reviewOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.ReviewBooking(ctx, engine.ReviewOptions{
			Actor:     actor,
			BookingID: input.ID,
			Rating:    input.Body.Rating,
			Comment:   stringOrEmpty(input.Body.Comment),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &reviewOutput{Body: reviewResponse(rv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-booking-review",
		Method:      http.MethodGet,
		Path:        "/bookings/{id}/review",
		Summary:     "Get the review of a booking",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reviewOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.GetReview(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &reviewOutput{Body: reviewResponse(rv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-seller-reviews",
		Method:      http.MethodGet,
		Path:        "/sellers/{id}/reviews",
		Summary:     "List the reviews a seller received, with their average rating",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body SellerReviewsResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.ListSellerReviews(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SellerReviewsResponse `json:"body"`
		}{Body: sellerReviewsResponse(res)}, nil
	})
}
