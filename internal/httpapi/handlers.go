package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/calls"
	"crm-dialer/internal/coaching"
	"crm-dialer/internal/dialer"
	"crm-dialer/internal/live"
	"crm-dialer/internal/reporting"
	"crm-dialer/internal/telephony"
	"crm-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Dialer    *dialer.Manager
	Coaching  *coaching.Service
	Hub       *live.Hub
	Reporting *reporting.Service
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The agent console is served from another origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// --- Auth ---

type loginRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// Login issues an access token.
//
// NOTE: Credential validation lives in the CRM's auth service; this endpoint
// only exists so the engine is usable standalone in dev.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id, role required"})
		return
	}
	tok, err := h.Auth.IssueAccessToken(time.Now(), req.AgentID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Sessions ---

type startSessionRequest struct {
	CampaignID string `json:"campaign_id"`
}

func (h Handlers) StartSession(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent_id required"})
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CampaignID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return
	}
	s, err := h.Dialer.StartSession(c.Request.Context(), req.CampaignID, agentID)
	if err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) GetSession(c *gin.Context) {
	s, err := h.ownedSession(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) PauseSession(c *gin.Context) {
	s, err := h.ownedSession(c)
	if err != nil {
		return
	}
	if err := h.Dialer.PauseSession(s.SessionID); err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h Handlers) ResumeSession(c *gin.Context) {
	s, err := h.ownedSession(c)
	if err != nil {
		return
	}
	if err := h.Dialer.ResumeSession(s.SessionID); err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (h Handlers) StopSession(c *gin.Context) {
	s, err := h.ownedSession(c)
	if err != nil {
		return
	}
	if err := h.Dialer.StopSession(s.SessionID); err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h Handlers) NextContact(c *gin.Context) {
	s, err := h.ownedSession(c)
	if err != nil {
		return
	}
	p, found, err := h.Dialer.NextContact(c.Request.Context(), s.SessionID)
	if err != nil {
		writeDialerError(c, err)
		return
	}
	if !found {
		// Exhausted queue or inactive session: a normal outcome, not an error.
		c.JSON(http.StatusOK, gin.H{"contact": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contact": p})
}

type initiateCallRequest struct {
	ContactID string `json:"contact_id"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	s, err := h.ownedSession(c)
	if err != nil {
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ContactID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id required"})
		return
	}
	call, cs, err := h.Dialer.InitiateCall(c.Request.Context(), s.SessionID, req.ContactID)
	if err != nil {
		logger.FromGin(c).Warn("call initiation failed", "session_id", s.SessionID, "contact_id", req.ContactID, "err", err)
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": call, "call_session": cs})
}

// SessionEvents upgrades to a websocket and streams the session's call
// events until the client goes away.
func (h Handlers) SessionEvents(c *gin.Context) {
	s, err := h.ownedSession(c)
	if err != nil {
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := &live.Client{SessionID: s.SessionID, Conn: conn, Send: make(chan []byte, 64)}
	h.Hub.Register(client)
	go client.WritePump()

	// Reads are discarded; the socket exists to push events. Returning from
	// the read loop unregisters the client.
	go func() {
		defer h.Hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ownedSession loads the session from the :session_id param and enforces
// that it belongs to the calling agent. Writes the error response itself.
func (h Handlers) ownedSession(c *gin.Context) (dialer.DialerSession, error) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent_id required"})
		return dialer.DialerSession{}, err
	}
	s, err := h.Dialer.Session(c.Param("session_id"))
	if err != nil {
		writeDialerError(c, err)
		return dialer.DialerSession{}, err
	}
	if s.AgentID != agentID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return dialer.DialerSession{}, dialer.ErrSessionNotFound
	}
	return s, nil
}

// --- Calls ---

func (h Handlers) CallStatus(c *gin.Context) {
	agentID, _ := auth.AgentID(c.Request.Context())
	cs, err := h.Dialer.CallStatus(c.Request.Context(), agentID, c.Param("id"))
	if err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (h Handlers) EndCall(c *gin.Context) {
	agentID, _ := auth.AgentID(c.Request.Context())
	cs, err := h.Dialer.EndCall(c.Request.Context(), agentID, c.Param("id"))
	if err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (h Handlers) HoldCall(c *gin.Context)   { h.callControl(c, h.Dialer.Hold) }
func (h Handlers) ResumeCall(c *gin.Context) { h.callControl(c, h.Dialer.ResumeCall) }
func (h Handlers) MuteCall(c *gin.Context)   { h.callControl(c, h.Dialer.Mute) }
func (h Handlers) UnmuteCall(c *gin.Context) { h.callControl(c, h.Dialer.Unmute) }

func (h Handlers) callControl(c *gin.Context, op func(ctx context.Context, agentID, sid string) error) {
	agentID, _ := auth.AgentID(c.Request.Context())
	if err := op(c.Request.Context(), agentID, c.Param("id")); err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Disposition ---

type dispositionRequest struct {
	Disposition string     `json:"disposition"`
	Notes       string     `json:"notes,omitempty"`
	FollowUpAt  *time.Time `json:"follow_up_at,omitempty"`
}

func (h Handlers) SubmitDisposition(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent_id required"})
		return
	}
	var req dispositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Dialer.SubmitDisposition(c.Request.Context(), agentID, dialer.DispositionRequest{
		CallID:      c.Param("id"),
		Disposition: calls.Disposition(req.Disposition),
		Notes:       req.Notes,
		FollowUpAt:  req.FollowUpAt,
	})
	if err != nil {
		writeDialerError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- Coaching ---

func (h Handlers) CallFeedback(c *gin.Context) {
	agentID, _ := auth.AgentID(c.Request.Context())
	call, err := h.Dialer.Call(c.Request.Context(), agentID, c.Param("id"))
	if err != nil {
		writeDialerError(c, err)
		return
	}
	fb, transcript, err := h.Coaching.FeedbackForCall(c.Request.Context(), call.CallID, call.DurationSeconds)
	if err != nil {
		if errors.Is(err, coaching.ErrUnavailable) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "coaching collaborator not configured"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "coaching collaborator failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": fb, "transcript": transcript})
}

// --- Reports ---

func (h Handlers) CampaignReport(c *gin.Context) {
	rng, ok := reportRange(c)
	if !ok {
		return
	}
	sum, err := h.Reporting.CampaignSummary(c.Request.Context(), reporting.CampaignSummaryRequest{
		CampaignID: c.Param("campaign_id"),
		Range:      rng,
	})
	if err != nil {
		writeReportingError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) AgentReport(c *gin.Context) {
	rng, ok := reportRange(c)
	if !ok {
		return
	}
	sum, err := h.Reporting.AgentSummary(c.Request.Context(), reporting.AgentSummaryRequest{
		AgentID: c.Param("agent_id"),
		Range:   rng,
	})
	if err != nil {
		writeReportingError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// reportRange parses the required from/to RFC 3339 query params. Writes the
// error response itself.
func reportRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, errFrom := time.Parse(time.RFC3339, c.Query("from"))
	to, errTo := time.Parse(time.RFC3339, c.Query("to"))
	if errFrom != nil || errTo != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}

func writeReportingError(c *gin.Context, err error) {
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// --- Error mapping ---

func writeDialerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dialer.ErrSessionNotFound),
		errors.Is(err, dialer.ErrCallNotFound),
		errors.Is(err, dialer.ErrContactNotFound),
		errors.Is(err, dialer.ErrLeadNotFound),
		errors.Is(err, dialer.ErrNotOwner),
		errors.Is(err, telephony.ErrCallNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, dialer.ErrSessionNotActive),
		errors.Is(err, telephony.ErrCallNotInProgress),
		errors.Is(err, dialer.ErrAgentAtCapacity):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, dialer.ErrInvalidArgument),
		errors.Is(err, telephony.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
