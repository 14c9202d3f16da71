package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSagaStatusCanTransition(t *testing.T) {
	allowed := []struct {
		from, to SagaStatus
	}{
		{SagaStatusInitiated, SagaStatusDebited},
		{SagaStatusInitiated, SagaStatusFailed},
		{SagaStatusDebited, SagaStatusCompleted},
		{SagaStatusDebited, SagaStatusCompensating},
		{SagaStatusCompensating, SagaStatusCompensated},
		{SagaStatusCompensating, SagaStatusFailed},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransition(tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	all := []SagaStatus{
		SagaStatusInitiated, SagaStatusDebited, SagaStatusCompleted,
		SagaStatusCompensating, SagaStatusCompensated, SagaStatusFailed,
	}
	isAllowed := func(from, to SagaStatus) bool {
		for _, tc := range allowed {
			if tc.from == from && tc.to == to {
				return true
			}
		}
		return false
	}
	for _, from := range all {
		for _, to := range all {
			if !isAllowed(from, to) {
				assert.False(t, from.CanTransition(to), "%s -> %s should be illegal", from, to)
			}
		}
	}
}

func TestSagaStatusTerminal(t *testing.T) {
	assert.True(t, SagaStatusCompleted.Terminal())
	assert.True(t, SagaStatusCompensated.Terminal())
	assert.True(t, SagaStatusFailed.Terminal())

	assert.False(t, SagaStatusInitiated.Terminal())
	assert.False(t, SagaStatusDebited.Terminal())
	assert.False(t, SagaStatusCompensating.Terminal())
}

func TestValidCurrency(t *testing.T) {
	assert.True(t, ValidCurrency("ZAR"))
	assert.True(t, ValidCurrency("USD"))

	assert.False(t, ValidCurrency(""))
	assert.False(t, ValidCurrency("zar"))
	assert.False(t, ValidCurrency("ZA"))
	assert.False(t, ValidCurrency("ZARR"))
	assert.False(t, ValidCurrency("Z4R"))
}

func TestNewPage(t *testing.T) {
	page := NewPage([]int{1, 2, 3}, 0, 3, 7)
	assert.Equal(t, 3, len(page.Content))
	assert.Equal(t, int64(7), page.TotalElements)
	assert.Equal(t, 3, page.TotalPages)
	assert.False(t, page.Last)

	last := NewPage([]int{7}, 2, 3, 7)
	assert.True(t, last.Last)

	empty := NewPage([]int{}, 0, 20, 0)
	assert.Equal(t, 0, empty.TotalPages)
	assert.True(t, empty.Last)
}
