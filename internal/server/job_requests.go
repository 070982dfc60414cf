package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bookline/internal/engine"
	"bookline/internal/repo"
)

type jobRequestOutput struct {
	Body JobRequestResponse `json:"body"`
}

type offersOutput struct {
	Body []OfferResponse `json:"body"`
}

func registerJobRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job-request",
		Method:        http.MethodPost,
		Path:          "/job-requests",
		Summary:       "Create job request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequestRequest `json:"body"`
	}) (*jobRequestOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		jr, err := e.CreateJobRequest(ctx, engine.JobRequestCreateOptions{
			Actor:          actor,
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			Category:       input.Body.Category,
			Budget:         optionalDecimal(input.Body.Budget),
			PreferredStart: stringOrEmpty(input.Body.PreferredStart),
			DueAt:          stringOrEmpty(input.Body.DueAt),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &jobRequestOutput{Body: jobRequestResponse(jr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-requests",
		Method:      http.MethodGet,
		Path:        "/job-requests",
		Summary:     "List job requests",
		Description: "Buyers see their own requests; admins see all.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"open,assigned,fulfilled,rejected,cancelled"`
		Category string `query:"category"`
		BuyerID  string `query:"buyer_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedJobRequests `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, limit, perr := page(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListJobRequests(ctx, actor, repo.JobRequestFilters{
			BuyerID:  input.BuyerID,
			Status:   input.Status,
			Category: input.Category,
			Page:     p,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedJobRequests{Items: []JobRequestResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapJobRequests(items)
		return &struct {
			Body paginatedJobRequests `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job-request",
		Method:      http.MethodGet,
		Path:        "/job-requests/{id}",
		Summary:     "Get job request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*jobRequestOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		jr, err := e.GetJobRequest(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobRequestOutput{Body: jobRequestResponse(jr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-job-request-status",
		Method:      http.MethodPatch,
		Path:        "/job-requests/{id}/status",
		Summary:     "Reject or cancel a job request",
		Description: "Admins may reject or cancel; the owning buyer may cancel. Pending offers are rejected with it.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID             string                     `path:"id"`
		ExpectedStatus string                     `query:"expected_status"`
		Body           SetJobRequestStatusRequest `json:"body"`
	}) (*jobRequestOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		jr, err := e.SetJobRequestStatus(ctx, engine.JobRequestStatusOptions{
			Actor:          actor,
			ID:             input.ID,
			Status:         input.Body.Status,
			Reason:         stringOrEmpty(input.Body.Reason),
			ExpectedStatus: input.ExpectedStatus,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &jobRequestOutput{Body: jobRequestResponse(jr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-offers",
		Method:        http.MethodPost,
		Path:          "/job-requests/{id}/offers",
		Summary:       "Offer a job request to sellers",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CreateOffersRequest `json:"body"`
	}) (*offersOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.OfferCreateOptions{Actor: actor, RequestID: input.ID}
		for _, o := range input.Body.Offers {
			opts.Offers = append(opts.Offers, engine.OfferInput{
				SellerID:     o.SellerID,
				OfferedPrice: optionalDecimal(o.OfferedPrice),
				OfferedStart: stringOrEmpty(o.OfferedStart),
				Message:      stringOrEmpty(o.Message),
			})
		}
		offers, err := e.CreateOffers(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &offersOutput{Body: mapOffers(offers)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-request-offers",
		Method:      http.MethodGet,
		Path:        "/job-requests/{id}/offers",
		Summary:     "List offers of a job request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Status string `query:"status" enum:"pending,accepted,rejected"`
	}) (*offersOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetJobRequest(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		offers, err := e.ListOffers(ctx, actor, repo.OfferFilters{RequestID: input.ID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &offersOutput{Body: mapOffers(offers)}, nil
	})
}
