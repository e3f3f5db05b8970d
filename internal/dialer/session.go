package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/campaigns"
	"crm-dialer/internal/telephony"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionStopped SessionStatus = "stopped"
)

// SessionStats are the live per-session counters. All fields are
// monotonically non-decreasing for the life of the session.
type SessionStats struct {
	CallsMade            int `json:"calls_made"`
	Connected            int `json:"connected"`
	NoAnswer             int `json:"no_answer"`
	Busy                 int `json:"busy"`
	Voicemail            int `json:"voicemail"`
	Enrolled             int `json:"enrolled"`
	TotalTalkTimeSeconds int `json:"total_talk_time_seconds"`
}

// DialerSession is one agent's active dialing run against one campaign.
// Ephemeral, process-local; it does not survive a restart.
type DialerSession struct {
	SessionID  string        `json:"session_id"`
	CampaignID string        `json:"campaign_id"`
	AgentID    string        `json:"agent_id"`
	Status     SessionStatus `json:"status"`

	CurrentContactID string `json:"current_contact_id,omitempty"`

	Stats SessionStats `json:"stats"`

	StartedAt time.Time `json:"started_at"`
}

// CallCapper bounds concurrent in-flight calls per agent. A nil capper
// disables the cap.
type CallCapper interface {
	Acquire(ctx context.Context, agentID string) (bool, error)
	Release(ctx context.Context, agentID string) error
}

type ManagerConfig struct {
	// MaxAttempts is the per-contact retry budget (config, not a constant).
	MaxAttempts int

	// CallerID is presented as the From number on outbound dials.
	CallerID string
}

// Manager owns the session table and orchestrates dialing: queue selection,
// provider dials, durable dial-time writes and the sid↔callId binding.
//
// All session state is behind mu; the same lock is shared with the status
// bridge (same package) so counter updates and snapshots are consistent.
type Manager struct {
	cfg      ManagerConfig
	provider telephony.CallProvider
	store    Store
	sids     SidIndex
	caps     CallCapper
	bridge   *Bridge
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*DialerSession

	clock func() time.Time
}

func NewManager(cfg ManagerConfig, provider telephony.CallProvider, store Store, sids SidIndex, caps CallCapper, log *slog.Logger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		provider: provider,
		store:    store,
		sids:     sids,
		caps:     caps,
		log:      log,
		sessions: make(map[string]*DialerSession),
		clock:    time.Now,
	}
}

// SetBridge wires the status bridge. Must be called before the first
// InitiateCall; kept separate from the constructor because manager and bridge
// reference each other.
func (m *Manager) SetBridge(b *Bridge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridge = b
}

// StartSession binds an agent to a campaign with zeroed stats. Starting a
// second session for the same (campaign, agent) pair creates an independent
// session; calls carry their session id so the two never interfere.
func (m *Manager) StartSession(ctx context.Context, campaignID, agentID string) (DialerSession, error) {
	if campaignID == "" || agentID == "" {
		return DialerSession{}, ErrInvalidArgument
	}

	s := &DialerSession{
		SessionID:  uuid.NewString(),
		CampaignID: campaignID,
		AgentID:    agentID,
		Status:     SessionActive,
		StartedAt:  m.clock().UTC(),
	}

	m.mu.Lock()
	m.sessions[s.SessionID] = s
	out := *s
	m.mu.Unlock()

	m.log.Info("dialer session started", "session_id", s.SessionID, "campaign_id", campaignID, "agent_id", agentID)
	return out, nil
}

// Session returns a snapshot of the live session.
func (m *Manager) Session(sessionID string) (DialerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return DialerSession{}, ErrSessionNotFound
	}
	return *s, nil
}

func (m *Manager) PauseSession(sessionID string) error {
	return m.setStatus(sessionID, SessionPaused, SessionActive)
}

func (m *Manager) ResumeSession(sessionID string) error {
	return m.setStatus(sessionID, SessionActive, SessionPaused)
}

// StopSession marks the session stopped. In-flight calls are not force-ended;
// stopping the session and ending the current call are independent actions.
func (m *Manager) StopSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = SessionStopped
	return nil
}

func (m *Manager) setStatus(sessionID string, to, requires SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != requires {
		return fmt.Errorf("%w: session is %s", ErrSessionNotActive, s.Status)
	}
	s.Status = to
	return nil
}

// NextContact asks the queue selector for the next dialable contact.
// "No contact" (exhausted campaign, or a session that is not active) is a
// normal ok=false return, not an error.
func (m *Manager) NextContact(ctx context.Context, sessionID string) (campaigns.ContactProjection, bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return campaigns.ContactProjection{}, false, ErrSessionNotFound
	}
	if s.Status != SessionActive {
		m.mu.Unlock()
		return campaigns.ContactProjection{}, false, nil
	}
	campaignID := s.CampaignID
	m.mu.Unlock()

	p, found, err := m.store.NextContact(ctx, campaignID, m.cfg.MaxAttempts)
	if err != nil {
		return campaigns.ContactProjection{}, false, err
	}
	if !found {
		return campaigns.ContactProjection{}, false, nil
	}

	// Selection marks the session's current contact but never mutates the
	// queue row; that happens only when a call is actually placed.
	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		s.CurrentContactID = p.ContactID
	}
	m.mu.Unlock()

	return p, true, nil
}

// InitiateCall dials the contact on behalf of the session. It fails loudly:
// unknown session, inactive session, unknown contact and provider failures
// all surface to the caller so an agent always knows a call did not start.
//
// On provider or persistence failure the session reverts to its pre-dial
// state; no half-started call is left dangling.
func (m *Manager) InitiateCall(ctx context.Context, sessionID, contactID string) (calls.Call, telephony.CallSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return calls.Call{}, telephony.CallSession{}, ErrSessionNotFound
	}
	if s.Status != SessionActive {
		m.mu.Unlock()
		return calls.Call{}, telephony.CallSession{}, fmt.Errorf("%w: session is %s", ErrSessionNotActive, s.Status)
	}
	campaignID, agentID := s.CampaignID, s.AgentID
	bridge := m.bridge
	m.mu.Unlock()

	contact, err := m.store.GetContact(ctx, contactID)
	if err != nil {
		return calls.Call{}, telephony.CallSession{}, err
	}
	if contact.CampaignID != campaignID {
		return calls.Call{}, telephony.CallSession{}, fmt.Errorf("%w: contact %s belongs to another campaign", ErrInvalidArgument, contactID)
	}
	lead, err := m.store.GetLead(ctx, contact.LeadID)
	if err != nil {
		return calls.Call{}, telephony.CallSession{}, err
	}

	if m.caps != nil {
		ok, err := m.caps.Acquire(ctx, agentID)
		if err != nil {
			return calls.Call{}, telephony.CallSession{}, fmt.Errorf("dialer: call cap check failed: %w", err)
		}
		if !ok {
			return calls.Call{}, telephony.CallSession{}, ErrAgentAtCapacity
		}
	}
	release := func() {
		if m.caps != nil {
			if err := m.caps.Release(ctx, agentID); err != nil {
				m.log.Warn("call cap release failed", "agent_id", agentID, "err", err)
			}
		}
	}

	// The bridge callback registration is idempotent: the provider holds a
	// single listener slot, so re-registering on every dial never builds a
	// duplicate callback chain.
	if bridge != nil {
		m.provider.SetStatusCallback(bridge.OnProviderStatus)
	}

	cs, err := m.provider.MakeCall(ctx, telephony.MakeCallRequest{To: lead.Phone, From: m.cfg.CallerID})
	if err != nil {
		release()
		return calls.Call{}, telephony.CallSession{}, fmt.Errorf("dialer: provider dial failed: %w", err)
	}

	now := m.clock().UTC()
	call := calls.Call{
		CallID:      uuid.NewString(),
		SessionID:   sessionID,
		CampaignID:  campaignID,
		AgentID:     agentID,
		LeadID:      lead.LeadID,
		ContactID:   contactID,
		Direction:   calls.DirectionOutbound,
		Status:      calls.StatusInitiated,
		PhoneNumber: lead.Phone,
		StartedAt:   cs.StartedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.RecordDialAttempt(ctx, call); err != nil {
		m.abortDial(ctx, cs.SID, release)
		return calls.Call{}, telephony.CallSession{}, fmt.Errorf("dialer: recording dial attempt failed: %w", err)
	}
	if err := m.sids.Bind(ctx, cs.SID, call.CallID); err != nil {
		m.abortDial(ctx, cs.SID, release)
		// The dial attempt already committed but the bridge can never
		// resolve this sid, so close the durable row here.
		m.failDialRecord(ctx, call.CallID)
		return calls.Call{}, telephony.CallSession{}, fmt.Errorf("dialer: sid binding failed: %w", err)
	}

	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		s.CurrentContactID = contactID
		s.Stats.CallsMade++
	}
	m.mu.Unlock()

	return call, cs, nil
}

func (m *Manager) abortDial(ctx context.Context, sid string, release func()) {
	if _, err := m.provider.EndCall(ctx, sid); err != nil {
		m.log.Warn("ending aborted dial failed", "sid", sid, "err", err)
	}
	release()
}

// failDialRecord marks a durable call FAILED when its provider leg was
// aborted before any status event could reach the bridge. Best effort: the
// row stays INITIATED only if this write also fails, and that is logged.
func (m *Manager) failDialRecord(ctx context.Context, callID string) {
	now := m.clock().UTC()
	zero := 0
	upd := CallStatusUpdate{
		CallID:          callID,
		Status:          calls.StatusFailed,
		At:              now,
		EndedAt:         &now,
		DurationSeconds: &zero,
	}
	if err := m.store.ApplyCallStatus(ctx, upd); err != nil {
		m.log.Error("closing aborted dial record failed", "call_id", callID, "err", err)
	}
}

// CallStatus resolves the sid, checks ownership and returns a fresh provider
// snapshot (duration recomputed while in progress).
func (m *Manager) CallStatus(ctx context.Context, agentID, sid string) (telephony.CallSession, error) {
	if _, err := m.ownedCall(ctx, agentID, sid); err != nil {
		return telephony.CallSession{}, err
	}
	return m.provider.GetCallStatus(ctx, sid)
}

// EndCall ends an in-flight call after an ownership check. Safe to call on an
// already-terminal call.
func (m *Manager) EndCall(ctx context.Context, agentID, sid string) (telephony.CallSession, error) {
	if _, err := m.ownedCall(ctx, agentID, sid); err != nil {
		return telephony.CallSession{}, err
	}
	return m.provider.EndCall(ctx, sid)
}

func (m *Manager) Hold(ctx context.Context, agentID, sid string) error {
	if _, err := m.ownedCall(ctx, agentID, sid); err != nil {
		return err
	}
	return m.provider.Hold(ctx, sid)
}

func (m *Manager) ResumeCall(ctx context.Context, agentID, sid string) error {
	if _, err := m.ownedCall(ctx, agentID, sid); err != nil {
		return err
	}
	return m.provider.Resume(ctx, sid)
}

func (m *Manager) Mute(ctx context.Context, agentID, sid string) error {
	if _, err := m.ownedCall(ctx, agentID, sid); err != nil {
		return err
	}
	return m.provider.Mute(ctx, sid)
}

func (m *Manager) Unmute(ctx context.Context, agentID, sid string) error {
	if _, err := m.ownedCall(ctx, agentID, sid); err != nil {
		return err
	}
	return m.provider.Unmute(ctx, sid)
}

// Call returns the durable call record after an ownership check.
func (m *Manager) Call(ctx context.Context, agentID, callID string) (calls.Call, error) {
	call, err := m.store.GetCall(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if agentID != "" && call.AgentID != agentID {
		return calls.Call{}, ErrNotOwner
	}
	return call, nil
}

func (m *Manager) ownedCall(ctx context.Context, agentID, sid string) (calls.Call, error) {
	callID, err := m.sids.Lookup(ctx, sid)
	if err != nil {
		return calls.Call{}, err
	}
	call, err := m.store.GetCall(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if agentID != "" && call.AgentID != agentID {
		return calls.Call{}, ErrNotOwner
	}
	return call, nil
}

// SetClock overrides the manager clock. Test hook.
func (m *Manager) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// applyStats runs fn against the session's counters under the manager lock.
// Used by the status bridge and disposition closeout.
func (m *Manager) applyStats(sessionID string, fn func(*SessionStats)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	fn(&s.Stats)
	return true
}
