// Package catalog defines the read-only query contract over persisted
// message templates and its storage backends.
package catalog

import (
	"context"
	"errors"
	"sort"

	"followup-templates/internal/models"
	"followup-templates/internal/vertical"
)

var ErrNotConfigured = errors.New("catalog: backend not configured")

// Query selects active templates. Empty fields are not filtered on; the
// resolver always sets StepKey.
type Query struct {
	StepKey  string
	Vertical vertical.Vertical
	Channel  models.Channel
}

// Accessor returns active templates ordered by priority descending, then by
// ID ascending so equal priorities resolve the same way on every backend.
type Accessor interface {
	// First returns (nil, nil) when nothing matches.
	First(ctx context.Context, q Query) (*models.Template, error)
	Find(ctx context.Context, q Query) ([]models.Template, error)
}

// Writer bulk-loads already authored templates. Only tooling uses it; the
// resolution path is read-only.
type Writer interface {
	Upsert(ctx context.Context, templates []models.Template) error
}

// sortTemplates applies the canonical ordering in place.
func sortTemplates(ts []models.Template) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Priority != ts[j].Priority {
			return ts[i].Priority > ts[j].Priority
		}
		return ts[i].ID < ts[j].ID
	})
}
