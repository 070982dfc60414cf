package engine

import (
	"slices"

	"bookline/internal/domain"
)

type transitionKey struct {
	kind   string
	from   string
	action domain.Action
}

type transitionRule struct {
	to string
	// roles, when set, restricts the row to those actor roles.
	roles []string
}

// transitions is the single table every status change is checked against.
var transitions = map[transitionKey]transitionRule{
	{domain.KindJobRequest, domain.JobRequestOpen, domain.ActionAssign}:      {to: domain.JobRequestAssigned},
	{domain.KindJobRequest, domain.JobRequestAssigned, domain.ActionFulfill}: {to: domain.JobRequestFulfilled},
	{domain.KindJobRequest, domain.JobRequestOpen, domain.ActionReject}:      {to: domain.JobRequestRejected},
	{domain.KindJobRequest, domain.JobRequestAssigned, domain.ActionReject}:  {to: domain.JobRequestRejected},
	{domain.KindJobRequest, domain.JobRequestOpen, domain.ActionCancel}:      {to: domain.JobRequestCancelled},
	{domain.KindJobRequest, domain.JobRequestAssigned, domain.ActionCancel}:  {to: domain.JobRequestCancelled},

	{domain.KindOffer, domain.OfferPending, domain.ActionAccept}:   {to: domain.OfferAccepted},
	{domain.KindOffer, domain.OfferPending, domain.ActionReject}:   {to: domain.OfferRejected},
	{domain.KindOffer, domain.OfferPending, domain.ActionWithdraw}: {to: domain.OfferRejected},

	{domain.KindBooking, domain.BookingPending, domain.ActionAccept}: {to: domain.BookingAccepted},
	{domain.KindBooking, domain.BookingPending, domain.ActionReject}: {to: domain.BookingRejected},
	{domain.KindBooking, domain.BookingPending, domain.ActionCancel}: {to: domain.BookingCancelled},
	{domain.KindBooking, domain.BookingAccepted, domain.ActionCancel}: {
		to:    domain.BookingCancelled,
		roles: []string{domain.RoleSeller, domain.RoleAdmin},
	},
	{domain.KindBooking, domain.BookingAccepted, domain.ActionComplete}: {to: domain.BookingCompleted},
	// Reviewing leaves the status alone; the reviewed flag records it.
	{domain.KindBooking, domain.BookingCompleted, domain.ActionReview}: {to: domain.BookingCompleted},
}

// nextStatus resolves (kind, current status, action) against the table.
//
// When no row matches, the failure is classified: if the current status lies
// downstream of a status the action is legal from, the entity was already
// moved by someone else (or by an earlier attempt of this same request) and
// the caller gets a ConflictError. Otherwise the action simply does not apply
// and the caller gets a TransitionError.
func nextStatus(kind, id, current string, action domain.Action, role string) (string, error) {
	rule, ok := transitions[transitionKey{kind, current, action}]
	if ok {
		if len(rule.roles) > 0 && !slices.Contains(rule.roles, role) {
			return "", TransitionError{Kind: kind, From: current, Action: action}
		}
		return rule.to, nil
	}
	for key := range transitions {
		if key.kind != kind || key.action != action {
			continue
		}
		if reachable(kind, key.from, current) {
			return "", ConflictError{Kind: kind, ID: id, Expected: key.from, Actual: current}
		}
	}
	return "", TransitionError{Kind: kind, From: current, Action: action}
}

// reachable reports whether status to can follow status from through one or
// more forward transitions.
func reachable(kind, from, to string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for key, rule := range transitions {
			if key.kind != kind || key.from != cur || rule.to == cur || seen[rule.to] {
				continue
			}
			if rule.to == to {
				return true
			}
			seen[rule.to] = true
			queue = append(queue, rule.to)
		}
	}
	return false
}

// expectStatus honours an optional caller-supplied precondition.
func expectStatus(kind, id, expected, actual string) error {
	if expected == "" || expected == actual {
		return nil
	}
	return ConflictError{Kind: kind, ID: id, Expected: expected, Actual: actual}
}
