package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bookline/internal/engine"
	"bookline/internal/repo"
)

func registerAvailability(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-slot",
		Method:        http.MethodPost,
		Path:          "/availability",
		Summary:       "Declare an availability slot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateSlotRequest `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSlot(ctx, engine.SlotCreateOptions{
			Actor:     actor,
			StartTime: input.Body.StartTime,
			EndTime:   input.Body.EndTime,
			Notes:     stringOrEmpty(input.Body.Notes),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-slots",
		Method:      http.MethodGet,
		Path:        "/availability",
		Summary:     "List availability slots",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SellerID   string `query:"seller_id"`
		OnlyFree   bool   `query:"only_free"`
		StartAfter string `query:"start_after" format:"date-time"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []SlotResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSlots(ctx, repo.SlotFilters{
			SellerID:   input.SellerID,
			OnlyFree:   input.OnlyFree,
			StartAfter: input.StartAfter,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SlotResponse `json:"body"`
		}{Body: mapSlots(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-slot",
		Method:        http.MethodDelete,
		Path:          "/availability/{id}",
		Summary:       "Delete a free slot",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSlot(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
