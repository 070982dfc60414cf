// Package auth is the authorization gate. Guards are pure functions over the
// acting principal and the ownership facts of the target entity.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"bookline/internal/domain"
)

// Actor is the explicit (role, id) pair every engine call carries.
type Actor struct {
	ID   string
	Role string
}

// System is the actor used by background jobs such as the completion sweeper.
var System = Actor{ID: "system", Role: domain.RoleSystem}

func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("actor id required")
	}
	switch a.Role {
	case domain.RoleBuyer, domain.RoleSeller, domain.RoleAdmin, domain.RoleSystem:
		return nil
	default:
		return fmt.Errorf("invalid actor role %q", a.Role)
	}
}

func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// Inboxes lists the notification recipients this actor reads from.
func (a Actor) Inboxes() []string {
	if a.IsAdmin() {
		return []string{a.ID, domain.AdminInbox}
	}
	return []string{a.ID}
}

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	Kind   string
	Action domain.Action
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s %s forbidden: %s", e.Kind, e.Action, e.Reason)
}

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Err converts a denial into a ForbiddenError.
func (r GuardResult) Err(kind string, action domain.Action) error {
	if r.Allowed {
		return nil
	}
	return ForbiddenError{Kind: kind, Action: action, Reason: r.Reason}
}

func allow() GuardResult { return GuardResult{Allowed: true} }

func deny(format string, args ...any) GuardResult {
	return GuardResult{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

func requireRole(a Actor, roles ...string) GuardResult {
	for _, r := range roles {
		if a.Role == r {
			return allow()
		}
	}
	return deny("role %s cannot do this (need %s)", a.Role, strings.Join(roles, " or "))
}

// CanCreate gates entity creation by role.
func CanCreate(a Actor, kind string) GuardResult {
	switch kind {
	case domain.KindJobRequest, domain.KindBooking:
		return requireRole(a, domain.RoleBuyer)
	case domain.KindOffer:
		return requireRole(a, domain.RoleAdmin)
	case domain.KindSlot:
		return requireRole(a, domain.RoleSeller)
	default:
		return deny("unknown entity kind %s", kind)
	}
}

// CanJobRequest gates actions on an existing job request.
// Buyers act only on their own requests; admins act platform-wide.
func CanJobRequest(a Actor, action domain.Action, jr domain.JobRequest) GuardResult {
	owner := a.Role == domain.RoleBuyer && a.ID == jr.BuyerID
	switch action {
	case domain.ActionRead:
		if a.IsAdmin() || owner {
			return allow()
		}
		return deny("job request %s is not yours", jr.ID)
	case domain.ActionCancel:
		if a.IsAdmin() || owner {
			return allow()
		}
		return deny("only the owning buyer or an admin may cancel job request %s", jr.ID)
	case domain.ActionReject, domain.ActionAssign:
		return requireRole(a, domain.RoleAdmin)
	case domain.ActionFulfill:
		return requireRole(a, domain.RoleAdmin, domain.RoleSystem)
	default:
		return deny("action %s not permitted on job requests", action)
	}
}

// OfferFacts carries the request owner so buyers can read offers on their own requests.
type OfferFacts struct {
	Offer          domain.Offer
	RequestBuyerID string
}

// CanOffer gates actions on an existing offer. Only the addressed seller
// answers it; only admins withdraw it.
func CanOffer(a Actor, action domain.Action, f OfferFacts) GuardResult {
	addressed := a.Role == domain.RoleSeller && a.ID == f.Offer.SellerID
	switch action {
	case domain.ActionRead:
		if a.IsAdmin() || addressed || (a.Role == domain.RoleBuyer && a.ID == f.RequestBuyerID) {
			return allow()
		}
		return deny("offer %s is not addressed to you", f.Offer.ID)
	case domain.ActionAccept, domain.ActionReject:
		if addressed {
			return allow()
		}
		return deny("offer %s is not addressed to you", f.Offer.ID)
	case domain.ActionWithdraw:
		return requireRole(a, domain.RoleAdmin)
	default:
		return deny("action %s not permitted on offers", action)
	}
}

// CanBooking gates actions on an existing booking.
func CanBooking(a Actor, action domain.Action, b domain.Booking) GuardResult {
	buyer := a.Role == domain.RoleBuyer && a.ID == b.BuyerID
	seller := a.Role == domain.RoleSeller && a.ID == b.SellerID
	switch action {
	case domain.ActionRead:
		if a.IsAdmin() || buyer || seller {
			return allow()
		}
		return deny("booking %s is not yours", b.ID)
	case domain.ActionAccept, domain.ActionReject:
		if seller {
			return allow()
		}
		return deny("only the booked seller may respond to booking %s", b.ID)
	case domain.ActionCancel:
		if a.IsAdmin() || buyer || seller {
			return allow()
		}
		return deny("booking %s is not yours", b.ID)
	case domain.ActionComplete:
		return requireRole(a, domain.RoleAdmin, domain.RoleSystem)
	case domain.ActionReview:
		if buyer {
			return allow()
		}
		return deny("only the buyer of booking %s may review it", b.ID)
	default:
		return deny("action %s not permitted on bookings", action)
	}
}

// CanSlot gates actions on an availability slot owned by a seller.
func CanSlot(a Actor, action domain.Action, s domain.AvailabilitySlot) GuardResult {
	switch action {
	case domain.ActionRead:
		return allow()
	case domain.ActionDelete:
		if a.Role == domain.RoleSeller && a.ID == s.SellerID {
			return allow()
		}
		return deny("slot %s is not yours", s.ID)
	default:
		return deny("action %s not permitted on slots", action)
	}
}
