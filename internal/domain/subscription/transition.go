package subscription

import "github.com/agentmesh/billing/internal/types"

var transitions = map[types.SubscriptionStatus][]types.SubscriptionStatus{
	types.SubscriptionStatusTrialing: {
		types.SubscriptionStatusActive,
		types.SubscriptionStatusCanceled,
	},
	types.SubscriptionStatusActive: {
		types.SubscriptionStatusActive, // renewal
		types.SubscriptionStatusPastDue,
		types.SubscriptionStatusCanceled,
	},
	types.SubscriptionStatusPastDue: {
		types.SubscriptionStatusActive,
		types.SubscriptionStatusCanceled,
	},
	types.SubscriptionStatusCanceled: {
		types.SubscriptionStatusActive,   // reactivation
		types.SubscriptionStatusTrialing, // reactivation of a trial cancelled before it converted
	},
}

// CanTransition reports whether the lifecycle allows moving from one status to another
func CanTransition(from, to types.SubscriptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
