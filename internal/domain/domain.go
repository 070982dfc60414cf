package domain

import "github.com/shopspring/decimal"

// Roles an actor can hold.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Entity kinds used by events, notifications and the transition table.
const (
	KindJobRequest = "job_request"
	KindOffer      = "offer"
	KindBooking    = "booking"
	KindSlot       = "slot"
	KindReview     = "review"
)

const (
	JobRequestOpen      = "open"
	JobRequestAssigned  = "assigned"
	JobRequestFulfilled = "fulfilled"
	JobRequestRejected  = "rejected"
	JobRequestCancelled = "cancelled"
)

const (
	OfferPending  = "pending"
	OfferAccepted = "accepted"
	OfferRejected = "rejected"
)

const (
	BookingPending   = "pending"
	BookingAccepted  = "accepted"
	BookingRejected  = "rejected"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
)

// AdminInbox is the shared notification recipient for all admins.
const AdminInbox = "admins"

type JobRequest struct {
	ID             string           `json:"id"`
	BuyerID        string           `json:"buyer_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Category       string           `json:"category"`
	Budget         *decimal.Decimal `json:"budget,omitempty"`
	PreferredStart *string          `json:"preferred_start,omitempty"`
	DueAt          *string          `json:"due_at,omitempty"`
	Status         string           `json:"status"`
	Reason         *string          `json:"reason,omitempty"`
	Version        int64            `json:"version"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

type Offer struct {
	ID           string           `json:"id"`
	RequestID    string           `json:"request_id"`
	SellerID     string           `json:"seller_id"`
	AdminID      string           `json:"admin_id"`
	OfferedPrice *decimal.Decimal `json:"offered_price,omitempty"`
	OfferedStart *string          `json:"offered_start,omitempty"`
	Message      *string          `json:"message,omitempty"`
	Status       string           `json:"status"`
	BookingID    *string          `json:"booking_id,omitempty"`
	Version      int64            `json:"version"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
}

type Booking struct {
	ID             string          `json:"id"`
	BuyerID        string          `json:"buyer_id"`
	SellerID       string          `json:"seller_id"`
	GigID          *string         `json:"gig_id,omitempty"`
	OfferID        *string         `json:"offer_id,omitempty"`
	SlotID         *string         `json:"slot_id,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Requirements   string          `json:"requirements,omitempty"`
	ScheduledStart *string         `json:"scheduled_start,omitempty"`
	ScheduledEnd   *string         `json:"scheduled_end,omitempty"`
	Status         string          `json:"status"`
	CancelReason   *string         `json:"cancel_reason,omitempty"`
	Reviewed       bool            `json:"reviewed"`
	Version        int64           `json:"version"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	CompletedAt    *string         `json:"completed_at,omitempty"`
}

// Active reports whether the booking can still hold a slot.
func (b Booking) Active() bool {
	return b.Status == BookingPending || b.Status == BookingAccepted
}

type AvailabilitySlot struct {
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

type Review struct {
	ID         string  `json:"id"`
	BookingID  string  `json:"booking_id"`
	ReviewerID string  `json:"reviewer_id"`
	ReviewedID string  `json:"reviewed_id"`
	Rating     int     `json:"rating"`
	Comment    *string `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Notification is both an inbox entry and an outbox row for push delivery.
type Notification struct {
	ID          int64   `json:"id"`
	RecipientID string  `json:"recipient_id"`
	Type        string  `json:"type"`
	EntityKind  string  `json:"entity_kind"`
	EntityID    string  `json:"entity_id"`
	OldStatus   string  `json:"old_status,omitempty"`
	NewStatus   string  `json:"new_status,omitempty"`
	Payload     string  `json:"payload_json"`
	ReadAt      *string `json:"read_at,omitempty"`
	Attempts    int     `json:"attempts"`
	AvailableAt string  `json:"available_at"`
	DeliveredAt *string `json:"delivered_at,omitempty"`
	DeadAt      *string `json:"dead_at,omitempty"`
	LastError   *string `json:"last_error,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at"`
}

// Action names a requested change. Together with the entity kind and its
// current status it selects a row of the transition table.
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionAssign   Action = "assign"
	ActionFulfill  Action = "fulfill"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionWithdraw Action = "withdraw"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionReview   Action = "review"
	ActionDelete   Action = "delete"
)
