package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"payline.dev/app/internal/gateway"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(gateway.IntentSucceeded))
	assert.True(t, IsTerminal(gateway.IntentCanceled))
	assert.True(t, IsTerminal(gateway.IntentFailed))

	assert.False(t, IsTerminal(gateway.IntentRequiresPaymentMethod))
	assert.False(t, IsTerminal(gateway.IntentProcessing))
	assert.False(t, IsTerminal(gateway.IntentRequiresCapture))
}

func TestCanTransition(t *testing.T) {
	// forward edges
	assert.True(t, CanTransition(gateway.IntentRequiresPaymentMethod, gateway.IntentRequiresConfirmation))
	assert.True(t, CanTransition(gateway.IntentRequiresConfirmation, gateway.IntentRequiresCapture))
	assert.True(t, CanTransition(gateway.IntentRequiresCapture, gateway.IntentSucceeded))
	assert.True(t, CanTransition(gateway.IntentProcessing, gateway.IntentFailed))

	// no backward edges
	assert.False(t, CanTransition(gateway.IntentRequiresCapture, gateway.IntentRequiresPaymentMethod))
	assert.False(t, CanTransition(gateway.IntentProcessing, gateway.IntentRequiresConfirmation))

	// terminal states have no outgoing edges
	assert.False(t, CanTransition(gateway.IntentSucceeded, gateway.IntentFailed))
	assert.False(t, CanTransition(gateway.IntentCanceled, gateway.IntentSucceeded))
	assert.False(t, CanTransition(gateway.IntentFailed, gateway.IntentProcessing))
}

func TestCanTransitionSelf(t *testing.T) {
	// replayed webhooks land on the same non-terminal status
	assert.True(t, CanTransition(gateway.IntentProcessing, gateway.IntentProcessing))
	assert.True(t, CanTransition(gateway.IntentRequiresCapture, gateway.IntentRequiresCapture))

	// terminal self transitions stay rejected; the caller treats same-status
	// as a no-op before it ever gets here
	assert.False(t, CanTransition(gateway.IntentSucceeded, gateway.IntentSucceeded))
}
