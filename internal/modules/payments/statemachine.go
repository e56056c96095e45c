package payments

import "payline.dev/app/internal/gateway"

// Allowed intent transitions. Terminal states have no outgoing edges.
var transitions = map[gateway.IntentStatus][]gateway.IntentStatus{
	gateway.IntentRequiresPaymentMethod: {
		gateway.IntentRequiresConfirmation,
		gateway.IntentRequiresAction,
		gateway.IntentProcessing,
		gateway.IntentRequiresCapture,
		gateway.IntentSucceeded,
		gateway.IntentCanceled,
		gateway.IntentFailed,
	},
	gateway.IntentRequiresConfirmation: {
		gateway.IntentRequiresAction,
		gateway.IntentProcessing,
		gateway.IntentRequiresCapture,
		gateway.IntentSucceeded,
		gateway.IntentCanceled,
		gateway.IntentFailed,
	},
	gateway.IntentRequiresAction: {
		gateway.IntentProcessing,
		gateway.IntentRequiresCapture,
		gateway.IntentSucceeded,
		gateway.IntentCanceled,
		gateway.IntentFailed,
	},
	gateway.IntentProcessing: {
		gateway.IntentRequiresCapture,
		gateway.IntentSucceeded,
		gateway.IntentCanceled,
		gateway.IntentFailed,
	},
	gateway.IntentRequiresCapture: {
		gateway.IntentSucceeded,
		gateway.IntentCanceled,
		gateway.IntentFailed,
	},
	gateway.IntentSucceeded: {},
	gateway.IntentCanceled:  {},
	gateway.IntentFailed:    {},
}

func IsTerminal(s gateway.IntentStatus) bool {
	switch s {
	case gateway.IntentSucceeded, gateway.IntentCanceled, gateway.IntentFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move. Self transitions
// are allowed for non-terminal states (idempotent webhook replays).
func CanTransition(from, to gateway.IntentStatus) bool {
	if from == to {
		return !IsTerminal(from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
