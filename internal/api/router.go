package api

import (
	"github.com/gin-gonic/gin"
)

// CORS allows the dashboard frontend to call the API from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RegisterRoutes mounts every endpoint under /api. leads may be nil when
// no relational store is configured.
func RegisterRoutes(r *gin.Engine, templates *TemplateHandler, leads *LeadHandler) {
	apiGroup := r.Group("/api")
	{
		// Template Routes
		apiGroup.GET("/templates", templates.ListTemplates)
		apiGroup.GET("/templates/resolve", templates.ResolveTemplate)
		apiGroup.POST("/templates/personalize", templates.Personalize)
		apiGroup.POST("/templates/compose", templates.Compose)

		// Cache Routes
		apiGroup.POST("/templates/cache/invalidate", templates.InvalidateCache)
		apiGroup.DELETE("/templates/cache", templates.FlushCache)

		apiGroup.GET("/verticals", templates.ListVerticals)
		apiGroup.GET("/verticals/normalize", templates.NormalizeVertical)

		// Lead Routes
		if leads != nil {
			apiGroup.GET("/leads", leads.GetLeads)
			apiGroup.GET("/leads/:id/message", leads.GetLeadMessage)
		}
	}
}
