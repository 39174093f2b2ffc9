package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Handlers map these onto
// response codes; everything else wraps them with context.
var (
	ErrNotFound            = errors.New("not found")
	ErrMatchAlreadyTaken   = errors.New("match already taken")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidTransition   = errors.New("invalid transition")
)

// InvalidTransitionError carries the state the entity was in and the
// action that was refused, so callers can report both.
type InvalidTransitionError struct {
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from %s", e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func NewInvalidTransition(from fmt.Stringer, action string) error {
	return &InvalidTransitionError{From: from.String(), Action: action}
}

func (s MatchStatus) String() string  { return string(s) }
func (s ReportStatus) String() string { return string(s) }
