package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiveStatuses(t *testing.T) {
	assert.ElementsMatch(t, []InstanceStatus{StatusConnected, StatusReconnecting}, LiveStatuses())
	for _, s := range LiveStatuses() {
		assert.True(t, s.WasLive())
	}
	assert.False(t, StatusQRPending.WasLive())
	assert.False(t, StatusLoggedOut.WasLive())
	assert.False(t, StatusUnknown.WasLive())
}
