package domain

import "errors"

// Rejections of a single action. None of them leaves a partial mutation behind.
var (
	ErrDeckSize            = errors.New("deck must hold exactly 40 cards")
	ErrIllegalAction       = errors.New("illegal action")
	ErrEmptyPile           = errors.New("pile is empty")
	ErrCardNotFound        = errors.New("card not in hand")
	ErrCannotClose         = errors.New("hand cannot close")
	ErrDoubleSettlement    = errors.New("match already settled")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMatchFull           = errors.New("match is full")
	ErrMatchNotFound       = errors.New("match not found")
	ErrAccountNotFound     = errors.New("account not found")
)

// Internal consistency faults. A match that hits one refuses further actions.
var (
	ErrInvariantViolated = errors.New("card count invariant violated")
	ErrMatchFaulted      = errors.New("match is faulted")
)
