package main

import (
	"crm-dialer/internal/auth"
	"crm-dialer/internal/coaching"
	"crm-dialer/internal/dialer"
	"crm-dialer/internal/httpapi"
	"crm-dialer/internal/live"
	"crm-dialer/internal/rbac"
	"crm-dialer/internal/reporting"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, authManager *auth.Manager, manager *dialer.Manager, coach *coaching.Service, hub *live.Hub, reports *reporting.Service) {
	h := httpapi.Handlers{
		Auth:      authManager,
		Dialer:    manager,
		Coaching:  coach,
		Hub:       hub,
		Reporting: reports,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		sessions := v1.Group("/dialer/sessions")
		{
			sessions.POST("", h.StartSession)
			sessions.GET("/:session_id", h.GetSession)
			sessions.POST("/:session_id/pause", h.PauseSession)
			sessions.POST("/:session_id/resume", h.ResumeSession)
			sessions.POST("/:session_id/stop", h.StopSession)
			sessions.GET("/:session_id/next-contact", h.NextContact)
			sessions.POST("/:session_id/calls", h.InitiateCall)
			sessions.GET("/:session_id/events", h.SessionEvents)
		}

		// Control routes take a provider sid, closeout routes a durable
		// call id. Gin requires one wildcard name per position, so both
		// bind ":id" and the handlers read it for what they need.
		callsGroup := v1.Group("/calls")
		{
			callsGroup.GET("/status/:id", h.CallStatus)
			callsGroup.POST("/:id/end", h.EndCall)
			callsGroup.POST("/:id/hold", h.HoldCall)
			callsGroup.POST("/:id/resume", h.ResumeCall)
			callsGroup.POST("/:id/mute", h.MuteCall)
			callsGroup.POST("/:id/unmute", h.UnmuteCall)
			callsGroup.POST("/:id/disposition", h.SubmitDisposition)
			callsGroup.GET("/:id/feedback", h.CallFeedback)
		}

		reportsGroup := v1.Group("/reports")
		reportsGroup.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			reportsGroup.GET("/campaigns/:campaign_id", h.CampaignReport)
			reportsGroup.GET("/agents/:agent_id", h.AgentReport)
		}
	}
}
