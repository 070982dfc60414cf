package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"bookline/internal/domain"
	"bookline/internal/repo"
)

// ValidationError reports malformed or out-of-policy input. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransitionError reports an action that is not legal from the entity's current status.
type TransitionError struct {
	Kind   string
	From   string
	Action domain.Action
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s", e.Action, e.Kind, e.From)
}

// ConflictError reports that the entity moved on before this write landed,
// either because a concurrent writer won or because the caller is retrying.
type ConflictError struct {
	Kind     string
	ID       string
	Expected string
	Actual   string
}

func (e ConflictError) Error() string {
	switch {
	case e.Expected != "" && e.Actual != "":
		return fmt.Sprintf("%s %s is %s, expected %s", e.Kind, e.ID, e.Actual, e.Expected)
	case e.Actual != "":
		return fmt.Sprintf("%s %s was already resolved (%s)", e.Kind, e.ID, e.Actual)
	default:
		return fmt.Sprintf("%s %s was modified concurrently", e.Kind, e.ID)
	}
}

func (e ConflictError) Unwrap() error { return repo.ErrConflict }

// SlotUnavailableError reports a slot that is booked, or otherwise cannot back the booking.
type SlotUnavailableError struct {
	SlotID string
	Reason string
}

func (e SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s unavailable: %s", e.SlotID, e.Reason)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}

// storeErr decorates store sentinels with the entity they concern.
func storeErr(kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return notFound(kind, id)
	case errors.Is(err, repo.ErrConflict):
		return ConflictError{Kind: kind, ID: id}
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}

// fromValidator flattens validator output into a ValidationError naming every failing field.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := toSnake(fe.Field())
		fields = append(fields, name)
		reasons = append(reasons, describeTag(name, fe))
	}
	return ValidationError{Field: strings.Join(fields, ","), Reason: strings.Join(reasons, "; ")}
}

func describeTag(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
