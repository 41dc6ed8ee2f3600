package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceTransitionGraph(t *testing.T) {
	assert.NoError(t, AssertTransition(StatusDraft, StatusPublished))
	assert.NoError(t, AssertTransition(StatusPublished, StatusUnpublished))
	assert.NoError(t, AssertTransition(StatusUnpublished, StatusPublished))
	assert.Error(t, AssertTransition(StatusDraft, StatusUnpublished))
	assert.Error(t, AssertTransition(StatusPublished, StatusDraft))
}

func TestLeaseTransitionGraph(t *testing.T) {
	assert.NoError(t, AssertLeaseTransition(LeaseActive, LeaseRevoked))
	assert.NoError(t, AssertLeaseTransition(LeaseActive, LeaseExpired))
	assert.Error(t, AssertLeaseTransition(LeaseRevoked, LeaseActive))
	assert.Error(t, AssertLeaseTransition(LeaseExpired, LeaseActive))
}

func TestLeaseRemaining(t *testing.T) {
	l := Lease{Quota: 10, Used: 4}
	assert.Equal(t, 6, l.Remaining())
	l.Used = 12
	assert.Equal(t, 0, l.Remaining())
}
