package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/genqueue/internal/service"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	b := service.Backoff{Base: time.Second, Max: time.Hour}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := b.Delay(attempt)
		base := time.Second << (attempt - 1)
		// delay is base plus at most 25% jitter
		require.GreaterOrEqual(t, d, base)
		require.LessOrEqual(t, d, base+base/4+time.Nanosecond)
		assert.Greater(t, d, prev/2)
		prev = d
	}
}

func TestBackoffIsCapped(t *testing.T) {
	b := service.Backoff{Base: time.Second, Max: 10 * time.Second}

	for attempt := 1; attempt <= 20; attempt++ {
		assert.LessOrEqual(t, b.Delay(attempt), 10*time.Second)
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := service.Backoff{Base: time.Second, Max: time.Hour}
	assert.GreaterOrEqual(t, b.Delay(0), time.Second)
	assert.GreaterOrEqual(t, b.Delay(-3), time.Second)
}
