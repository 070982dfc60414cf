package server

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"bookline/internal/domain"
	"bookline/internal/engine"
)

// Request payloads

type CreateJobRequestRequest struct {
	Title          string   `json:"title" maxLength:"200"`
	Description    *string  `json:"description,omitempty"`
	Category       string   `json:"category" maxLength:"100" example:"email_management"`
	Budget         *float64 `json:"budget,omitempty" minimum:"0" example:"500"`
	PreferredStart *string  `json:"preferred_start,omitempty" format:"date-time"`
	DueAt          *string  `json:"due_at,omitempty" format:"date-time"`
}

type SetJobRequestStatusRequest struct {
	Status string  `json:"status" enum:"rejected,cancelled"`
	Reason *string `json:"reason,omitempty"`
}

type OfferInputRequest struct {
	SellerID     string   `json:"seller_id"`
	OfferedPrice *float64 `json:"offered_price,omitempty" minimum:"0"`
	OfferedStart *string  `json:"offered_start,omitempty" format:"date-time"`
	Message      *string  `json:"message,omitempty"`
}

type CreateOffersRequest struct {
	Offers []OfferInputRequest `json:"offers" minItems:"1" maxItems:"50"`
}

type RespondOfferRequest struct {
	Action string `json:"action" enum:"accept,reject"`
}

type CreateBookingRequest struct {
	SellerID       string  `json:"seller_id"`
	GigID          *string `json:"gig_id,omitempty"`
	SlotID         *string `json:"slot_id,omitempty"`
	Price          float64 `json:"price" minimum:"0"`
	Requirements   *string `json:"requirements,omitempty"`
	ScheduledStart *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty" format:"date-time"`
}

type RespondBookingRequest struct {
	Action string  `json:"action" enum:"accept,reject"`
	SlotID *string `json:"slot_id,omitempty"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

type ReviewRequest struct {
	Rating  int     `json:"rating" minimum:"1" maximum:"5"`
	Comment *string `json:"comment,omitempty"`
}

type CreateSlotRequest struct {
	StartTime string  `json:"start_time" format:"date-time"`
	EndTime   string  `json:"end_time" format:"date-time"`
	Notes     *string `json:"notes,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"buyer,seller,admin"`
}

// Response payloads

type JobRequestResponse struct {
	ID             string  `json:"id"`
	BuyerID        string  `json:"buyer_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Category       string  `json:"category"`
	Budget         *string `json:"budget,omitempty" example:"500"`
	PreferredStart *string `json:"preferred_start,omitempty"`
	DueAt          *string `json:"due_at,omitempty"`
	Status         string  `json:"status" enum:"open,assigned,fulfilled,rejected,cancelled"`
	Reason         *string `json:"reason,omitempty"`
	Version        int64   `json:"version"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type OfferResponse struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	SellerID     string  `json:"seller_id"`
	AdminID      string  `json:"admin_id"`
	OfferedPrice *string `json:"offered_price,omitempty"`
	OfferedStart *string `json:"offered_start,omitempty"`
	Message      *string `json:"message,omitempty"`
	Status       string  `json:"status" enum:"pending,accepted,rejected"`
	BookingID    *string `json:"booking_id,omitempty"`
	Version      int64   `json:"version"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type BookingResponse struct {
	ID             string  `json:"id"`
	BuyerID        string  `json:"buyer_id"`
	SellerID       string  `json:"seller_id"`
	GigID          *string `json:"gig_id,omitempty"`
	OfferID        *string `json:"offer_id,omitempty"`
	SlotID         *string `json:"slot_id,omitempty"`
	Price          string  `json:"price" example:"500"`
	Requirements   string  `json:"requirements,omitempty"`
	ScheduledStart *string `json:"scheduled_start,omitempty"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty"`
	Status         string  `json:"status" enum:"pending,accepted,rejected,completed,cancelled"`
	CancelReason   *string `json:"cancel_reason,omitempty"`
	Reviewed       bool    `json:"reviewed"`
	Version        int64   `json:"version"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

type RespondOfferResponse struct {
	Offer   OfferResponse    `json:"offer"`
	Booking *BookingResponse `json:"booking,omitempty"`
}

type SlotResponse struct {
	ID        string  `json:"id"`
	SellerID  string  `json:"seller_id"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	IsBooked  bool    `json:"is_booked"`
	BookingID *string `json:"booking_id,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type ReviewResponse struct {
	ID         string  `json:"id"`
	BookingID  string  `json:"booking_id"`
	ReviewerID string  `json:"reviewer_id"`
	ReviewedID string  `json:"reviewed_id"`
	Rating     int     `json:"rating"`
	Comment    *string `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type SellerReviewsResponse struct {
	SellerID      string           `json:"seller_id"`
	Reviews       []ReviewResponse `json:"reviews"`
	AverageRating *float64         `json:"average_rating" example:"4.5"`
	TotalReviews  int              `json:"total_reviews"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type NotificationResponse struct {
	ID          int64          `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Type        string         `json:"type"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	OldStatus   string         `json:"old_status,omitempty"`
	NewStatus   string         `json:"new_status,omitempty"`
	Payload     map[string]any `json:"payload"`
	ReadAt      *string        `json:"read_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type paginatedJobRequests struct {
	Items      []JobRequestResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedOffers struct {
	Items      []OfferResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedBookings struct {
	Items      []BookingResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedNotifications struct {
	Items      []NotificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Role    string   `json:"role"`
	Source  string   `json:"source"`
	Inboxes []string `json:"inboxes"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func optionalDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func jobRequestResponse(jr domain.JobRequest) JobRequestResponse {
	return JobRequestResponse{
		ID:             jr.ID,
		BuyerID:        jr.BuyerID,
		Title:          jr.Title,
		Description:    jr.Description,
		Category:       jr.Category,
		Budget:         decimalString(jr.Budget),
		PreferredStart: jr.PreferredStart,
		DueAt:          jr.DueAt,
		Status:         jr.Status,
		Reason:         jr.Reason,
		Version:        jr.Version,
		CreatedAt:      jr.CreatedAt,
		UpdatedAt:      jr.UpdatedAt,
	}
}

func offerResponse(o domain.Offer) OfferResponse {
	return OfferResponse{
		ID:           o.ID,
		RequestID:    o.RequestID,
		SellerID:     o.SellerID,
		AdminID:      o.AdminID,
		OfferedPrice: decimalString(o.OfferedPrice),
		OfferedStart: o.OfferedStart,
		Message:      o.Message,
		Status:       o.Status,
		BookingID:    o.BookingID,
		Version:      o.Version,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func bookingResponse(b domain.Booking) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		BuyerID:        b.BuyerID,
		SellerID:       b.SellerID,
		GigID:          b.GigID,
		OfferID:        b.OfferID,
		SlotID:         b.SlotID,
		Price:          b.Price.String(),
		Requirements:   b.Requirements,
		ScheduledStart: b.ScheduledStart,
		ScheduledEnd:   b.ScheduledEnd,
		Status:         b.Status,
		CancelReason:   b.CancelReason,
		Reviewed:       b.Reviewed,
		Version:        b.Version,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		CompletedAt:    b.CompletedAt,
	}
}

func respondOfferResponse(res engine.OfferResult) RespondOfferResponse {
	out := RespondOfferResponse{Offer: offerResponse(res.Offer)}
	if res.Booking != nil {
		b := bookingResponse(*res.Booking)
		out.Booking = &b
	}
	return out
}

func slotResponse(s domain.AvailabilitySlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		SellerID:  s.SellerID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		IsBooked:  s.IsBooked,
		BookingID: s.BookingID,
		Notes:     s.Notes,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func reviewResponse(rv domain.Review) ReviewResponse {
	return ReviewResponse{
		ID:         rv.ID,
		BookingID:  rv.BookingID,
		ReviewerID: rv.ReviewerID,
		ReviewedID: rv.ReviewedID,
		Rating:     rv.Rating,
		Comment:    rv.Comment,
		CreatedAt:  rv.CreatedAt,
	}
}

func sellerReviewsResponse(r engine.SellerReviews) SellerReviewsResponse {
	out := SellerReviewsResponse{
		SellerID:     r.SellerID,
		Reviews:      make([]ReviewResponse, 0, len(r.Reviews)),
		TotalReviews: r.TotalReviews,
	}
	for _, rv := range r.Reviews {
		out.Reviews = append(out.Reviews, reviewResponse(rv))
	}
	if r.AverageRating != nil {
		avg := r.AverageRating.InexactFloat64()
		out.AverageRating = &avg
	}
	return out
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payloadMap(evt.Payload),
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        n.Type,
		EntityKind:  n.EntityKind,
		EntityID:    n.EntityID,
		OldStatus:   n.OldStatus,
		NewStatus:   n.NewStatus,
		Payload:     payloadMap(n.Payload),
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
	}
}

func payloadMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func mapJobRequests(items []domain.JobRequest) []JobRequestResponse {
	out := make([]JobRequestResponse, 0, len(items))
	for _, jr := range items {
		out = append(out, jobRequestResponse(jr))
	}
	return out
}

func mapOffers(items []domain.Offer) []OfferResponse {
	out := make([]OfferResponse, 0, len(items))
	for _, o := range items {
		out = append(out, offerResponse(o))
	}
	return out
}

func mapBookings(items []domain.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(items))
	for _, b := range items {
		out = append(out, bookingResponse(b))
	}
	return out
}

func mapSlots(items []domain.AvailabilitySlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(items))
	for _, s := range items {
		out = append(out, slotResponse(s))
	}
	return out
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
