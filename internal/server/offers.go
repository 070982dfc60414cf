package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bookline/internal/engine"
	"bookline/internal/repo"
)

type offerOutput struct {
	Body OfferResponse `json:"body"`
}

func registerOffers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/offers",
		Summary:     "List offers",
		Description: "Sellers see offers addressed to them; buyers must name one of their requests.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RequestID string `query:"request_id"`
		SellerID  string `query:"seller_id"`
		Status    string `query:"status" enum:"pending,accepted,rejected"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedOffers `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, limit, perr := page(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListOffers(ctx, actor, repo.OfferFilters{
			RequestID: input.RequestID,
			SellerID:  input.SellerID,
			Status:    input.Status,
			Page:      p,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOffers{Items: []OfferResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapOffers(items)
		return &struct {
			Body paginatedOffers `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-offer",
		Method:      http.MethodGet,
		Path:        "/offers/{id}",
		Summary:     "Get offer",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*offerOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.GetOffer(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &offerOutput{Body: offerResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-offer",
		Method:      http.MethodPatch,
		Path:        "/offers/{id}/respond",
		Summary:     "Accept or reject an offer",
		Description: "Accepting creates a pending booking. Once a sibling offer is accepted this returns 409 and the offer stays pending.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID             string              `path:"id"`
		ExpectedStatus string              `query:"expected_status"`
		Body           RespondOfferRequest `json:"body"`
	}) (*struct {
		Body RespondOfferResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RespondOffer(ctx, engine.OfferRespondOptions{
			Actor:          actor,
			ID:             input.ID,
			Action:         input.Body.Action,
			ExpectedStatus: input.ExpectedStatus,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RespondOfferResponse `json:"body"`
		}{Body: respondOfferResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-offer",
		Method:      http.MethodPatch,
		Path:        "/offers/{id}/withdraw",
		Summary:     "Withdraw a pending offer",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID             string `path:"id"`
		ExpectedStatus string `query:"expected_status"`
	}) (*offerOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.WithdrawOffer(ctx, engine.OfferWithdrawOptions{Actor: actor, ID: input.ID, ExpectedStatus: input.ExpectedStatus})
		if err != nil {
			return nil, handleError(err)
		}
		return &offerOutput{Body: offerResponse(o)}, nil
	})
}
