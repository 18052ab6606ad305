package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToOrderStatus(t *testing.T) {
	s, err := ToOrderStatus("CONFIRMED")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusConfirmed, s)

	_, err = ToOrderStatus("confirmed")
	assert.ErrorIs(t, err, ErrInvalidOrderStatus)

	_, err = ToOrderStatus("PAID")
	assert.ErrorIs(t, err, ErrInvalidOrderStatus)
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusConfirmed, OrderStatusProcessing, true},
		{OrderStatusConfirmed, OrderStatusRefunded, true},
		{OrderStatusConfirmed, OrderStatusPending, false},
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusProcessing, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusRefunded, OrderStatusConfirmed, false},
		{OrderStatusPending, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRefunded.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())
	assert.False(t, OrderStatus("UNKNOWN").IsTerminal())
}

func TestOrderStatus_RestocksOnCancel(t *testing.T) {
	assert.True(t, OrderStatusPending.RestocksOnCancel())
	assert.True(t, OrderStatusProcessing.RestocksOnCancel())
	assert.False(t, OrderStatusShipped.RestocksOnCancel())
}
