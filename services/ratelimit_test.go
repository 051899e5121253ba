package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubjectLimiterBurstAndRefill(t *testing.T) {
	l := NewSubjectLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))

	// other subjects have their own bucket
	assert.True(t, l.Allow("b", now))

	assert.True(t, l.Allow("a", now.Add(time.Second)))
}

func TestSubjectLimiterPrune(t *testing.T) {
	l := NewSubjectLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Allow("old", now)
	l.Allow("fresh", now.Add(time.Hour))

	assert.Equal(t, 1, l.Prune(now.Add(30*time.Minute)))
	assert.Equal(t, 0, l.Prune(now.Add(30*time.Minute)))
	assert.True(t, l.Allow("old", now.Add(time.Hour)))
}
