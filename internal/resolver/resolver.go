// Package resolver picks the single best template for a follow-up step.
//
// Tiers are tried strictly in order and the first hit wins:
//
//	exact     step + vertical + channel (only when a channel is requested)
//	vertical  step + vertical, any channel
//	generic   step + "generic", any channel
//	static    built-in fallback catalog
//
// Store errors downgrade to "no match" for that tier so an outage can only
// make the result less specific, never empty where built-in copy exists.
// Such results are flagged Degraded.
package resolver

import (
	"context"
	"log/slog"

	"followup-templates/internal/catalog"
	"followup-templates/internal/fallback"
	"followup-templates/internal/models"
	"followup-templates/internal/vertical"
)

type Source string

const (
	SourceDatabase Source = "database"
	SourceFallback Source = "fallback"
)

// Tier records which step of the waterfall produced a result.
type Tier string

const (
	TierExact    Tier = "exact"
	TierVertical Tier = "vertical"
	TierGeneric  Tier = "generic"
	TierStatic   Tier = "static"
	TierEmpty    Tier = "empty"
)

type Request struct {
	StepKey  string
	Vertical string // raw, normalized by the resolver
	Channel  models.Channel
	Tone     models.Tone
}

// Result is the resolved, not yet personalized, message for a request.
type Result struct {
	Template            *models.Template  `json:"template"`
	PersonalizedMessage string            `json:"personalized_message"`
	Subject             string            `json:"subject,omitempty"`
	IsVerticalSpecific  bool              `json:"is_vertical_specific"`
	UsedVertical        vertical.Vertical `json:"used_vertical"`
	Source              Source            `json:"source"`
	Tier                Tier              `json:"tier"`
	Tone                models.Tone       `json:"tone"`
	// Degraded is set when a store error made an earlier tier fall through.
	Degraded bool `json:"degraded,omitempty"`
}

// Empty reports whether there is nothing to show.
func (r Result) Empty() bool {
	return r.PersonalizedMessage == ""
}

// Clone returns a copy that does not share the template pointer.
func (r Result) Clone() Result {
	if r.Template != nil {
		t := *r.Template
		r.Template = &t
	}
	return r
}

type Resolver struct {
	accessor catalog.Accessor
	fallback *fallback.Catalog
	log      *slog.Logger
}

func New(accessor catalog.Accessor, fb *fallback.Catalog, log *slog.Logger) *Resolver {
	if fb == nil {
		fb = fallback.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{accessor: accessor, fallback: fb, log: log}
}

type tierQuery struct {
	tier  Tier
	query catalog.Query
}

func (r *Resolver) plan(req Request, v vertical.Vertical) []tierQuery {
	var tiers []tierQuery
	if req.Channel != models.ChannelAny {
		tiers = append(tiers, tierQuery{TierExact, catalog.Query{StepKey: req.StepKey, Vertical: v, Channel: req.Channel}})
	}
	tiers = append(tiers, tierQuery{TierVertical, catalog.Query{StepKey: req.StepKey, Vertical: v}})
	// For a generic lead the vertical tier already ran this exact query.
	if !v.IsGeneric() {
		tiers = append(tiers, tierQuery{TierGeneric, catalog.Query{StepKey: req.StepKey, Vertical: vertical.Generic}})
	}
	return tiers
}

// Resolve never fails; the worst case is an empty fallback result.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	v := vertical.Normalize(req.Vertical)
	tone := req.Tone
	if tone == "" {
		tone = models.DefaultTone
	}

	degraded := false
	if req.StepKey != "" && r.accessor != nil {
		for _, tq := range r.plan(req, v) {
			t, err := r.accessor.First(ctx, tq.query)
			if err != nil {
				degraded = true
				r.log.Warn("template lookup failed, falling through",
					"tier", tq.tier,
					"step_key", req.StepKey,
					"vertical", v,
					"channel", req.Channel,
					"error", err,
				)
				continue
			}
			if t == nil {
				continue
			}

			used := vertical.Normalize(t.Vertical)
			r.log.Debug("template resolved",
				"tier", tq.tier,
				"step_key", req.StepKey,
				"template_id", t.ID,
				"vertical", used,
			)
			return Result{
				Template:            t,
				PersonalizedMessage: t.Content,
				Subject:             t.Subject,
				IsVerticalSpecific:  !used.IsGeneric(),
				UsedVertical:        used,
				Source:              SourceDatabase,
				Tier:                tq.tier,
				Tone:                tone,
				Degraded:            degraded,
			}
		}
	}

	res := r.resolveStatic(req, v)
	res.Tone = tone
	res.Degraded = degraded
	return res
}

func (r *Resolver) resolveStatic(req Request, v vertical.Vertical) Result {
	entry, ok := r.fallback.Lookup(req.StepKey)
	if !ok {
		r.log.Info("no template or fallback for step", "step_key", req.StepKey)
		return Result{
			UsedVertical: vertical.Generic,
			Source:       SourceFallback,
			Tier:         TierEmpty,
		}
	}

	// A subject only makes sense on the channel the entry was written for.
	subject := entry.Subject
	if req.Channel != models.ChannelAny && entry.Channel != models.ChannelAny && entry.Channel != req.Channel {
		subject = ""
	}

	content, used := entry.Select(v)
	return Result{
		PersonalizedMessage: content,
		Subject:             subject,
		IsVerticalSpecific:  !used.IsGeneric(),
		UsedVertical:        used,
		Source:              SourceFallback,
		Tier:                TierStatic,
	}
}
