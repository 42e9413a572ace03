package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusSuccess, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusSuccess, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusSuccess, StatusFailed, false},
		{StatusFailed, StatusSuccess, false},
		{StatusPending, StatusExpired, false},
		{StatusExpired, StatusSuccess, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_Terminal(t *testing.T) {
	err := ValidateTransition(StatusSuccess, StatusFailed)
	assert.True(t, errors.Is(err, ErrCallbackAlreadyTerminal))

	assert.Error(t, ValidateTransition(StatusProcessing, StatusPending))
	assert.NoError(t, ValidateTransition(StatusPending, StatusSuccess))
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.Equal(t, StatusExpired, EffectiveStatus(StatusPending, past, now))
	assert.Equal(t, StatusPending, EffectiveStatus(StatusPending, future, now))
	assert.Equal(t, StatusPending, EffectiveStatus(StatusPending, time.Time{}, now))
	assert.Equal(t, StatusProcessing, EffectiveStatus(StatusProcessing, past, now))
	assert.Equal(t, StatusSuccess, EffectiveStatus(StatusSuccess, past, now))
}
