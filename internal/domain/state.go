package domain

import (
	"fmt"
	"time"
)

var orderTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	StatusPending: {
		StatusProcessing: {},
		StatusSuccess:    {},
		StatusFailed:     {},
	},
	StatusProcessing: {
		StatusSuccess: {},
		StatusFailed:  {},
	},
	StatusSuccess: {},
	StatusFailed:  {},
}

// CanTransition reports whether an order may move from current to next.
// Expired is never a stored state, so it is neither a source nor a target.
func CanTransition(current, next OrderStatus) bool {
	nextStates, ok := orderTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// ValidateTransition returns a descriptive error for a forbidden transition.
func ValidateTransition(current, next OrderStatus) error {
	if current.IsTerminal() {
		return fmt.Errorf("order is %s: %w", current, ErrCallbackAlreadyTerminal)
	}
	if !CanTransition(current, next) {
		return fmt.Errorf("invalid order state transition: %s -> %s", current, next)
	}
	return nil
}

// EffectiveStatus reports the status as seen by readers. Pending orders past
// their expiry read as expired; the stored status is untouched so a late
// callback can still settle them.
func EffectiveStatus(stored OrderStatus, expiresAt, now time.Time) OrderStatus {
	if stored == StatusPending && !expiresAt.IsZero() && now.After(expiresAt) {
		return StatusExpired
	}
	return stored
}
