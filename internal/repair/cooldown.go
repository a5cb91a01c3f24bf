package repair

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/store"
)

// Cooldowns reads and writes per-source cooldown markers through the
// settings store. It is an explicit dependency of the fallback and the
// pipeline rather than ambient global state.
type Cooldowns struct {
	st store.Store
}

// NewCooldowns creates a cooldown repository backed by the given store.
func NewCooldowns(st store.Store) *Cooldowns {
	return &Cooldowns{st: st}
}

func cooldownKey(sourceID string) string { return "cooldown:" + sourceID }

// Get returns the marker for a source, or nil if none was recorded yet.
func (c *Cooldowns) Get(ctx context.Context, sourceID string) (*model.CooldownMarker, error) {
	raw, err := c.st.GetSetting(ctx, cooldownKey(sourceID))
	if err != nil {
		return nil, eris.Wrapf(err, "cooldown: read marker for %s", sourceID)
	}
	if raw == "" {
		return nil, nil
	}
	var m model.CooldownMarker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, eris.Wrapf(err, "cooldown: decode marker for %s", sourceID)
	}
	return &m, nil
}

// Set upserts the marker for a source.
func (c *Cooldowns) Set(ctx context.Context, m model.CooldownMarker) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return eris.Wrapf(err, "cooldown: encode marker for %s", m.SourceID)
	}
	if err := c.st.SetSetting(ctx, cooldownKey(m.SourceID), string(raw)); err != nil {
		return eris.Wrapf(err, "cooldown: write marker for %s", m.SourceID)
	}
	return nil
}

// Active reports whether a new AI attempt for (source, fingerprint) is
// still blocked: the last attempt used the same fingerprint and happened
// within the window. A changed fingerprint always clears the cooldown.
func (c *Cooldowns) Active(ctx context.Context, sourceID, fingerprint string, window time.Duration, now time.Time) (bool, error) {
	m, err := c.Get(ctx, sourceID)
	if err != nil {
		return false, err
	}
	if m == nil || m.LastFingerprint != fingerprint {
		return false, nil
	}
	return now.Sub(m.LastAttempt) < window, nil
}
