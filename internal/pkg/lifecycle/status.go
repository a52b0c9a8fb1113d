package lifecycle

import "github.com/MartinHagen/SubEngine/app/models"

// allowedTransitions is the single place the status graph is defined.
// Cancelled and Expired are terminal and have no outgoing edges.
var allowedTransitions = map[models.SubscriptionStatus][]models.SubscriptionStatus{
	models.StatusPending: {
		models.StatusActive,
		models.StatusCancelled,
	},
	models.StatusTrialActive: {
		models.StatusActive,
		models.StatusCancelled,
		models.StatusExpired,
	},
	models.StatusActive: {
		models.StatusPaused,
		models.StatusSuspended,
		models.StatusCancelled,
		models.StatusExpired,
		models.StatusPaymentFailed,
	},
	models.StatusPaused: {
		models.StatusActive,
		models.StatusCancelled,
	},
	models.StatusSuspended: {
		models.StatusActive,
		models.StatusCancelled,
	},
	models.StatusPaymentFailed: {
		models.StatusActive,
		models.StatusCancelled,
		models.StatusExpired,
	},
	models.StatusCancelled: {},
	models.StatusExpired:   {},
}

// ValidateStatusTransition reports whether moving from one status to another
// is allowed. Unknown statuses and self-transitions are rejected; callers
// handle the idempotent "already there" case before asking.
func ValidateStatusTransition(from, to models.SubscriptionStatus) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
