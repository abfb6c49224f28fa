package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"followup-templates/internal/cache"
	"followup-templates/internal/catalog"
	"followup-templates/internal/engine"
	"followup-templates/internal/models"
	"followup-templates/internal/personalize"
	"followup-templates/internal/vertical"
)

type TemplateHandler struct {
	Engine   *engine.Engine
	Accessor catalog.Accessor
	log      *slog.Logger
}

func NewTemplateHandler(e *engine.Engine, accessor catalog.Accessor, log *slog.Logger) *TemplateHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TemplateHandler{Engine: e, Accessor: accessor, log: log}
}

// stepRequest is shared by the resolve, compose and invalidate endpoints.
type stepRequest struct {
	StepKey  string `json:"step_key" form:"step_key" binding:"required"`
	Vertical string `json:"vertical" form:"vertical"`
	Channel  string `json:"channel" form:"channel"`
	Tone     string `json:"tone" form:"tone"`
	Cache    string `json:"cache" form:"cache"`
}

// validate rejects values the engine would otherwise silently ignore.
func (r *stepRequest) validate() (cache.Policy, error) {
	r.StepKey = strings.TrimSpace(r.StepKey)
	if r.StepKey == "" {
		return cache.PolicyDefault, errors.New("step_key is required")
	}
	if _, err := models.ParseChannel(r.Channel); err != nil {
		return cache.PolicyDefault, err
	}
	if _, err := models.ParseTone(r.Tone); err != nil {
		return cache.PolicyDefault, err
	}
	return cache.ParsePolicy(r.Cache)
}

// ListTemplates returns active templates, highest priority first.
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	channel, err := models.ParseChannel(c.Query("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := catalog.Query{
		StepKey: strings.TrimSpace(c.Query("step_key")),
		Channel: channel,
	}
	if raw := c.Query("vertical"); raw != "" {
		q.Vertical = vertical.Normalize(raw)
	}

	templates, err := h.Accessor.Find(c.Request.Context(), q)
	if err != nil {
		h.log.Error("failed to list templates", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Template store unavailable"})
		return
	}

	// Return empty array instead of null
	if templates == nil {
		templates = []models.Template{}
	}
	c.JSON(http.StatusOK, templates)
}

// ResolveTemplate runs the resolution waterfall without personalizing.
func (h *TemplateHandler) ResolveTemplate(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := req.validate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := h.Engine.FetchTemplateForLead(c.Request.Context(), req.StepKey, req.Vertical, req.Channel, req.Tone, engine.WithPolicy(policy))
	c.JSON(http.StatusOK, res)
}

type PersonalizeRequest struct {
	Content string           `json:"content" binding:"required"`
	Lead    personalize.Lead `json:"lead"`
}

func (h *TemplateHandler) Personalize(c *gin.Context) {
	var req PersonalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": h.Engine.GeneratePersonalizedMessage(req.Content, req.Lead)})
}

type ComposeRequest struct {
	stepRequest
	Lead personalize.Lead `json:"lead"`
}

// Compose resolves and personalizes for a lead supplied in the body.
func (h *TemplateHandler) Compose(c *gin.Context) {
	var req ComposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := req.validate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := h.Engine.Compose(c.Request.Context(), engine.Request{
		StepKey:  req.StepKey,
		Vertical: req.Vertical,
		Channel:  req.Channel,
		Tone:     req.Tone,
		Policy:   policy,
	}, req.Lead)
	c.JSON(http.StatusOK, msg)
}

func (h *TemplateHandler) InvalidateCache(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Engine.Invalidate(c.Request.Context(), req.StepKey, req.Vertical, req.Channel); err != nil {
		h.log.Error("failed to invalidate cache entry", "step_key", req.StepKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invalidate cache entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Cache entry invalidated"})
}

func (h *TemplateHandler) FlushCache(c *gin.Context) {
	if err := h.Engine.Flush(c.Request.Context()); err != nil {
		h.log.Error("failed to flush cache", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to flush cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Cache flushed"})
}

func (h *TemplateHandler) NormalizeVertical(c *gin.Context) {
	q := c.Query("q")
	v := vertical.Normalize(q)
	c.JSON(http.StatusOK, gin.H{"input": q, "vertical": v, "label": vertical.Label(v)})
}

func (h *TemplateHandler) ListVerticals(c *gin.Context) {
	out := make([]gin.H, 0, len(vertical.All()))
	for _, v := range vertical.All() {
		out = append(out, gin.H{"vertical": v, "label": vertical.Label(v)})
	}
	c.JSON(http.StatusOK, out)
}
