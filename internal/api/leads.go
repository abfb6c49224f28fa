package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"followup-templates/internal/engine"
	"followup-templates/internal/models"
	"followup-templates/internal/personalize"
)

// LeadHandler serves follow-up copy for leads stored in the CRM tables.
type LeadHandler struct {
	DB     *gorm.DB
	Engine *engine.Engine
	log    *slog.Logger
}

func NewLeadHandler(db *gorm.DB, e *engine.Engine, log *slog.Logger) *LeadHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LeadHandler{DB: db, Engine: e, log: log}
}

func (h *LeadHandler) GetLeads(c *gin.Context) {
	var leads []models.Lead
	if err := h.DB.WithContext(c.Request.Context()).Order("created_at DESC").Find(&leads).Error; err != nil {
		h.log.Error("failed to list leads", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Lead store unavailable"})
		return
	}

	// Return empty array instead of null
	if leads == nil {
		leads = []models.Lead{}
	}
	c.JSON(http.StatusOK, leads)
}

type leadMessageQuery struct {
	StepKey string `form:"step_key" binding:"required"`
	Channel string `form:"channel"`
	Tone    string `form:"tone"`
	Cache   string `form:"cache"`
}

// GetLeadMessage composes the message for a stored lead. The lead's own
// vertical drives resolution.
func (h *LeadHandler) GetLeadMessage(c *gin.Context) {
	var q leadMessageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := stepRequest{StepKey: q.StepKey, Channel: q.Channel, Tone: q.Tone, Cache: q.Cache}
	policy, err := req.validate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var lead models.Lead
	err = h.DB.WithContext(c.Request.Context()).Where("id = ?", c.Param("id")).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
		return
	}
	if err != nil {
		h.log.Error("failed to load lead", "lead_id", c.Param("id"), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Lead store unavailable"})
		return
	}

	msg := h.Engine.Compose(c.Request.Context(), engine.Request{
		StepKey: req.StepKey,
		Channel: req.Channel,
		Tone:    req.Tone,
		Policy:  policy,
	}, personalize.Lead{
		Name:     lead.Name,
		Company:  lead.Company,
		Vertical: lead.Vertical,
	})
	c.JSON(http.StatusOK, gin.H{"lead_id": lead.ID, "message": msg})
}
