package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRunTime(t *testing.T) {
	morning := time.Date(2024, 5, 1, 0, 10, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 30, 0, 0, time.UTC), nextRunTime(morning, 0, 30))

	later := time.Date(2024, 5, 1, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 30, 0, 0, time.UTC), nextRunTime(later, 0, 30))

	endOfMonth := time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC), nextRunTime(endOfMonth, 6, 0))
}

func TestRunScheduledStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	err := RunScheduled(ctx, 0, 0, func(context.Context) error {
		runs++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, runs)
}
