package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are distinct
func TestErrors_Existence(t *testing.T) {
	all := []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrDimensionMismatch,
		ErrEmbeddingUnavailable,
		ErrSummarizerUnavailable,
		ErrFetcherUnavailable,
		ErrUnsupportedType,
		ErrStoreBusy,
		ErrStoreCorrupt,
		ErrProcessorRunning,
		ErrLockHeld,
	}

	for i, err := range all {
		assert.NotEmpty(t, err.Error())
		for j, other := range all {
			if i != j {
				assert.False(t, errors.Is(err, other), "%v should not match %v", err, other)
			}
		}
	}
}

func TestErrors_Wrapping(t *testing.T) {
	wrapped := fmt.Errorf("saving document: %w", ErrStoreBusy)
	assert.ErrorIs(t, wrapped, ErrStoreBusy)
	assert.NotErrorIs(t, wrapped, ErrStoreCorrupt)

	double := fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, errors.New("connection refused"))
	assert.ErrorIs(t, double, ErrEmbeddingUnavailable)
	assert.Contains(t, double.Error(), "connection refused")
}
