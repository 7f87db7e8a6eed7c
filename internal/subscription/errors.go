package subscription

import "errors"

// Slot mutation errors.
var (
	ErrRequiresPremium  = errors.New("subscription: requires premium")
	ErrMaxSlotsReached  = errors.New("subscription: maximum number of time slots reached")
	ErrInvalidSlot      = errors.New("subscription: invalid time slot")
	ErrOverlappingSlots = errors.New("subscription: time slots overlap")
	ErrSlotNotFound     = errors.New("subscription: time slot not found")
)

// ErrInvalidSettings is returned for free-tier edits outside the allowed bounds.
var ErrInvalidSettings = errors.New("subscription: invalid settings")
