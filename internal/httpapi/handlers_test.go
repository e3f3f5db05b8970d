package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/campaigns"
	"crm-dialer/internal/coaching"
	"crm-dialer/internal/config"
	"crm-dialer/internal/dialer"
	"crm-dialer/internal/leads"
	"crm-dialer/internal/live"
	"crm-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

type testServer struct {
	router *gin.Engine
	store  *dialer.MemoryStore
	auth   *auth.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	authMgr, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth.NewManager() error = %v", err)
	}

	prov, err := telephony.NewSimulator(telephony.SimulatorConfig{
		DialDelayMin:      time.Millisecond,
		DialDelayMax:      2 * time.Millisecond,
		RingDelayMin:      time.Millisecond,
		RingDelayMax:      2 * time.Millisecond,
		ResolveDelay:      5 * time.Millisecond,
		TerminalRetention: time.Minute,
		Outcomes:          telephony.OutcomeMix{Answered: 1},
	}, log)
	if err != nil {
		t.Fatalf("telephony.NewSimulator() error = %v", err)
	}
	t.Cleanup(prov.Close)

	store := dialer.NewMemoryStore()
	now := time.Now().UTC()
	store.SeedLead(leads.Lead{
		LeadID:       "lead-1",
		BusinessName: "Acme Plumbing",
		ContactName:  "Pat Jones",
		Phone:        "+15550100",
		Status:       leads.LeadStatusNew,
		CreatedAt:    now,
	})
	store.SeedContact(campaigns.CampaignContact{
		ContactID:  "contact-1",
		CampaignID: "camp-1",
		LeadID:     "lead-1",
		Status:     campaigns.ContactStatusPending,
		Priority:   5,
		CreatedAt:  now,
	})

	sids := dialer.NewMemorySidIndex(time.Hour)
	mgr := dialer.NewManager(dialer.ManagerConfig{MaxAttempts: 3, CallerID: "+15550000"}, prov, store, sids, nil, log)
	hub := live.NewHub(log)
	dialer.NewBridge(mgr, store, sids, prov, nil, hub, log)
	coach := coaching.NewService(coaching.Noop{}, coaching.Noop{})

	h := Handlers{Auth: authMgr, Dialer: mgr, Coaching: coach, Hub: hub}

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authMgr))
	{
		v1.POST("/dialer/sessions", h.StartSession)
		v1.GET("/dialer/sessions/:session_id", h.GetSession)
		v1.POST("/dialer/sessions/:session_id/pause", h.PauseSession)
		v1.POST("/dialer/sessions/:session_id/resume", h.ResumeSession)
		v1.POST("/dialer/sessions/:session_id/stop", h.StopSession)
		v1.GET("/dialer/sessions/:session_id/next-contact", h.NextContact)
		v1.POST("/dialer/sessions/:session_id/calls", h.InitiateCall)
		v1.GET("/calls/status/:id", h.CallStatus)
		v1.POST("/calls/:id/end", h.EndCall)
		v1.POST("/calls/:id/hold", h.HoldCall)
		v1.POST("/calls/:id/disposition", h.SubmitDisposition)
		v1.GET("/calls/:id/feedback", h.CallFeedback)
	}

	return &testServer{router: r, store: store, auth: authMgr}
}

func (s *testServer) token(t *testing.T, agentID string) string {
	t.Helper()
	tok, err := s.auth.IssueAccessToken(time.Now(), agentID, "agent")
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"agent_id": "agent-1", "role": "agent"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &resp)
	if resp.AccessToken == "" {
		t.Fatal("empty access token")
	}

	if w := srv.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"agent_id": "agent-1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("login without role status = %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	if w := srv.do(t, http.MethodPost, "/v1/dialer/sessions", "", gin.H{"campaign_id": "camp-1"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", w.Code)
	}
	if w := srv.do(t, http.MethodPost, "/v1/dialer/sessions", "not-a-jwt", gin.H{"campaign_id": "camp-1"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", w.Code)
	}
}

func TestSessionOwnership(t *testing.T) {
	srv := newTestServer(t)
	tok := srv.token(t, "agent-1")

	w := srv.do(t, http.MethodPost, "/v1/dialer/sessions", tok, gin.H{"campaign_id": "camp-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start session status = %d, body %s", w.Code, w.Body.String())
	}
	var sess dialer.DialerSession
	decode(t, w, &sess)

	if w := srv.do(t, http.MethodGet, "/v1/dialer/sessions/"+sess.SessionID, tok, nil); w.Code != http.StatusOK {
		t.Fatalf("get session status = %d", w.Code)
	}

	// Another agent sees 404, not 403; foreign session ids are indistinguishable from unknown ones.
	other := srv.token(t, "agent-2")
	if w := srv.do(t, http.MethodGet, "/v1/dialer/sessions/"+sess.SessionID, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign get session status = %d, want 404", w.Code)
	}

	if w := srv.do(t, http.MethodPost, "/v1/dialer/sessions/"+sess.SessionID+"/pause", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("pause status = %d", w.Code)
	}
	// Pausing a paused session is a state conflict.
	if w := srv.do(t, http.MethodPost, "/v1/dialer/sessions/"+sess.SessionID+"/pause", tok, nil); w.Code != http.StatusConflict {
		t.Fatalf("double pause status = %d, want 409", w.Code)
	}
	if w := srv.do(t, http.MethodPost, "/v1/dialer/sessions/"+sess.SessionID+"/resume", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("resume status = %d", w.Code)
	}
	if w := srv.do(t, http.MethodPost, "/v1/dialer/sessions/"+sess.SessionID+"/stop", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("stop status = %d", w.Code)
	}
}

func TestDialAndCloseoutFlow(t *testing.T) {
	srv := newTestServer(t)
	tok := srv.token(t, "agent-1")

	var sess dialer.DialerSession
	w := srv.do(t, http.MethodPost, "/v1/dialer/sessions", tok, gin.H{"campaign_id": "camp-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start session status = %d", w.Code)
	}
	decode(t, w, &sess)

	w = srv.do(t, http.MethodGet, "/v1/dialer/sessions/"+sess.SessionID+"/next-contact", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("next-contact status = %d", w.Code)
	}
	var nc struct {
		Contact *campaigns.ContactProjection `json:"contact"`
	}
	decode(t, w, &nc)
	if nc.Contact == nil || nc.Contact.ContactID != "contact-1" {
		t.Fatalf("next-contact = %+v", nc.Contact)
	}

	w = srv.do(t, http.MethodPost, "/v1/dialer/sessions/"+sess.SessionID+"/calls", tok, gin.H{"contact_id": nc.Contact.ContactID})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate status = %d, body %s", w.Code, w.Body.String())
	}
	var initResp struct {
		Call        struct{ CallID string `json:"call_id"` } `json:"call"`
		CallSession struct{ SID string `json:"sid"` }        `json:"call_session"`
	}
	decode(t, w, &initResp)
	if initResp.Call.CallID == "" || initResp.CallSession.SID == "" {
		t.Fatalf("initiate response = %s", w.Body.String())
	}
	sid := initResp.CallSession.SID

	// Poll the provider snapshot until the simulator answers.
	var snap telephony.CallSession
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = srv.do(t, http.MethodGet, "/v1/calls/status/"+sid, tok, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("call status = %d", w.Code)
		}
		decode(t, w, &snap)
		if snap.Status == telephony.CallStatusInProgress {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if snap.Status != telephony.CallStatusInProgress {
		t.Fatalf("call never answered, last status %s", snap.Status)
	}

	if w := srv.do(t, http.MethodPost, "/v1/calls/"+sid+"/hold", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("hold status = %d", w.Code)
	}
	if w := srv.do(t, http.MethodPost, "/v1/calls/"+sid+"/end", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("end status = %d", w.Code)
	}

	// Closeout is keyed by the durable call id, not the provider sid.
	if w := srv.do(t, http.MethodPost, "/v1/calls/"+initResp.Call.CallID+"/disposition", tok, gin.H{"disposition": "ENROLLED"}); w.Code != http.StatusOK {
		t.Fatalf("disposition status = %d, body %s", w.Code, w.Body.String())
	}
	if w := srv.do(t, http.MethodPost, "/v1/calls/"+initResp.Call.CallID+"/disposition", tok, gin.H{"disposition": "SOLD_THE_MOON"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad disposition status = %d, want 400", w.Code)
	}

	if w := srv.do(t, http.MethodGet, "/v1/calls/"+initResp.Call.CallID+"/feedback", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("feedback status = %d, body %s", w.Code, w.Body.String())
	}

	// A foreign agent cannot control the call.
	other := srv.token(t, "agent-2")
	if w := srv.do(t, http.MethodPost, "/v1/calls/"+sid+"/end", other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign end status = %d, want 404", w.Code)
	}
}

func TestNextContactExhaustedQueue(t *testing.T) {
	srv := newTestServer(t)
	tok := srv.token(t, "agent-1")

	var sess dialer.DialerSession
	w := srv.do(t, http.MethodPost, "/v1/dialer/sessions", tok, gin.H{"campaign_id": "camp-empty"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start session status = %d", w.Code)
	}
	decode(t, w, &sess)

	w = srv.do(t, http.MethodGet, "/v1/dialer/sessions/"+sess.SessionID+"/next-contact", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("next-contact status = %d", w.Code)
	}
	var nc struct {
		Contact *campaigns.ContactProjection `json:"contact"`
	}
	decode(t, w, &nc)
	if nc.Contact != nil {
		t.Fatalf("contact = %+v, want null for an exhausted queue", nc.Contact)
	}
}
