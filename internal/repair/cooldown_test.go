package repair

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/store"
)

func TestCooldownRoundTrip(t *testing.T) {
	ctx := context.Background()
	cd := NewCooldowns(store.NewMemoryStore())

	m, err := cd.Get(ctx, "tcmb")
	require.NoError(t, err)
	assert.Nil(t, m)

	marker := model.CooldownMarker{
		SourceID:        "tcmb",
		LastFingerprint: "abc123",
		LastAttempt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastQuoteCount:  9,
	}
	require.NoError(t, cd.Set(ctx, marker))

	got, err := cd.Get(ctx, "tcmb")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, marker, *got)
}

func TestCooldownActive(t *testing.T) {
	ctx := context.Background()
	cd := NewCooldowns(store.NewMemoryStore())
	attempt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, cd.Set(ctx, model.CooldownMarker{
		SourceID:        "tcmb",
		LastFingerprint: "abc123",
		LastAttempt:     attempt,
	}))

	window := 6 * time.Hour

	active, err := cd.Active(ctx, "tcmb", "abc123", window, attempt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, active)

	// Window elapsed.
	active, err = cd.Active(ctx, "tcmb", "abc123", window, attempt.Add(7*time.Hour))
	require.NoError(t, err)
	assert.False(t, active)

	// A changed page layout clears the cooldown immediately.
	active, err = cd.Active(ctx, "tcmb", "different", window, attempt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, active)

	// Unknown source has no marker.
	active, err = cd.Active(ctx, "ziraat", "abc123", window, attempt)
	require.NoError(t, err)
	assert.False(t, active)
}
