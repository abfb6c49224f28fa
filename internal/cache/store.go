package cache

import (
	"context"
	"strings"
	"time"

	"followup-templates/internal/models"
	"followup-templates/internal/resolver"
	"followup-templates/internal/vertical"
)

// Key identifies a cached resolution. Tone does not take part in template
// selection, so it is not part of the key.
type Key struct {
	StepKey  string
	Vertical vertical.Vertical
	Channel  models.Channel
}

// NewKey normalizes the raw vertical so synonyms share one entry.
func NewKey(stepKey, rawVertical string, channel models.Channel) Key {
	return Key{
		StepKey:  strings.TrimSpace(stepKey),
		Vertical: vertical.Normalize(rawVertical),
		Channel:  channel,
	}
}

func (k Key) Valid() bool {
	return k.StepKey != ""
}

func (k Key) String() string {
	channel := string(k.Channel)
	if channel == "" {
		channel = "any"
	}
	return k.StepKey + "|" + string(k.Vertical) + "|" + channel
}

// Entry is a resolution result plus the time it was produced.
type Entry struct {
	Result     resolver.Result `json:"result"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// Store is the backing map for a Cache. A missing key is (Entry{}, false, nil).
// Stores own eviction of unused entries; staleness is decided by the Cache.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Set(ctx context.Context, key Key, entry Entry) error
	Delete(ctx context.Context, key Key) error
	Flush(ctx context.Context) error
	Close() error
}
