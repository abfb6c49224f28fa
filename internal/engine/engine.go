// Package engine is the entry point the rest of the application uses to get
// follow-up copy for a lead: resolve a template (through the cache) and
// personalize it.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"followup-templates/internal/cache"
	"followup-templates/internal/models"
	"followup-templates/internal/personalize"
	"followup-templates/internal/resolver"
)

type Engine struct {
	resolver *resolver.Resolver
	cache    *cache.Cache
	log      *slog.Logger
}

// NewEngine wires a resolver to an optional cache. With a nil cache every
// call resolves against the store.
func NewEngine(res *resolver.Resolver, c *cache.Cache, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{resolver: res, cache: c, log: log}
}

// Request describes the follow-up step to produce copy for. Vertical is free
// text; Channel and Tone are parsed leniently.
type Request struct {
	StepKey  string       `json:"step_key"`
	Vertical string       `json:"vertical"`
	Channel  string       `json:"channel"`
	Tone     string       `json:"tone"`
	Policy   cache.Policy `json:"-"`
}

// Message is a resolved template rendered for one lead.
type Message struct {
	Result  resolver.Result `json:"resolution"`
	Text    string          `json:"text"`
	Subject string          `json:"subject,omitempty"`
}

type fetchOptions struct {
	policy cache.Policy
}

type FetchOption func(*fetchOptions)

func WithPolicy(p cache.Policy) FetchOption {
	return func(o *fetchOptions) { o.policy = p }
}

// FetchTemplateForLead returns the best template for the step. It never
// fails: a store outage degrades to the built-in copy and an unknown step
// yields an empty message.
func (e *Engine) FetchTemplateForLead(ctx context.Context, stepKey, vertical, channel, tone string, opts ...FetchOption) resolver.Result {
	o := fetchOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	req := resolver.Request{
		StepKey:  strings.TrimSpace(stepKey),
		Vertical: vertical,
		Channel:  e.parseChannel(channel),
		Tone:     e.parseTone(tone),
	}

	if e.cache == nil {
		return e.resolver.Resolve(ctx, req)
	}

	key := cache.NewKey(req.StepKey, req.Vertical, req.Channel)
	res := e.cache.Get(ctx, key, o.policy, func(ctx context.Context) resolver.Result {
		return e.resolver.Resolve(ctx, req)
	})
	// cached entries are shared across tones
	res.Tone = req.Tone
	return res
}

// GeneratePersonalizedMessage fills the placeholders in content from lead.
func (e *Engine) GeneratePersonalizedMessage(content string, lead personalize.Lead) string {
	return personalize.Personalize(content, lead)
}

// Compose resolves and personalizes in one go. An empty Request.Vertical
// falls back to the lead's own vertical.
func (e *Engine) Compose(ctx context.Context, req Request, lead personalize.Lead) Message {
	v := req.Vertical
	if v == "" {
		v = lead.Vertical
	}

	res := e.FetchTemplateForLead(ctx, req.StepKey, v, req.Channel, req.Tone, WithPolicy(req.Policy))
	msg := Message{Result: res}
	if res.Empty() {
		return msg
	}

	msg.Text = personalize.Personalize(res.PersonalizedMessage, lead)
	if res.Subject != "" {
		msg.Subject = personalize.Personalize(res.Subject, lead)
	}
	return msg
}

// Invalidate drops the cached resolution for one step/vertical/channel.
func (e *Engine) Invalidate(ctx context.Context, stepKey, vertical, channel string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, cache.NewKey(strings.TrimSpace(stepKey), vertical, e.parseChannel(channel)))
}

func (e *Engine) Flush(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Flush(ctx)
}

func (e *Engine) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

func (e *Engine) parseChannel(s string) models.Channel {
	c, err := models.ParseChannel(s)
	if err != nil {
		e.log.Debug("ignoring unknown channel", "channel", s)
	}
	return c
}

func (e *Engine) parseTone(s string) models.Tone {
	t, err := models.ParseTone(s)
	if err != nil {
		e.log.Debug("unknown tone, using default", "tone", s, "default", models.DefaultTone)
	}
	return t
}
