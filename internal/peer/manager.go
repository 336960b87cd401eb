// Package peer keeps one handshake primitive per remote participant, drives
// the offer/answer/ICE exchange and recovers connections that drop.
package peer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/clock"
	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/events"
	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/models"
)

var (
	ErrNoEntry  = errors.New("no peer connection for participant")
	ErrNotBound = errors.New("peer manager is not bound to a meeting")
)

const (
	DefaultDisconnectCheckDelay = 1500 * time.Millisecond
	DefaultReconnectDelay       = time.Second
	DefaultMaxRecoveryAttempts  = 10
	DefaultRelayOnlyAfter       = 3
)

// Config tunes recovery.
type Config struct {
	// DisconnectCheckDelay is how long a disconnected entry may recover on
	// its own before an ICE restart.
	DisconnectCheckDelay time.Duration
	// ReconnectDelay separates a hard failure from the full re-creation.
	ReconnectDelay time.Duration
	// MaxRecoveryAttempts caps consecutive recovery attempts per
	// participant. 0 means unbounded.
	MaxRecoveryAttempts int
	// RelayOnlyAfter moves a participant to relay-only ICE once this many
	// attempts have failed. 0 disables the switch.
	RelayOnlyAfter int

	Clock    clock.Clock
	Recorder diagnostics.Recorder
}

// DefaultConfig returns the recovery defaults.
func DefaultConfig() Config {
	return Config{
		DisconnectCheckDelay: DefaultDisconnectCheckDelay,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxRecoveryAttempts:  DefaultMaxRecoveryAttempts,
		RelayOnlyAfter:       DefaultRelayOnlyAfter,
	}
}

// Signaler is the sending half of a signaling transport.
type Signaler interface {
	Send(models.SignalingMessage)
}

// Roster is the meeting membership the manager validates recovery against
// and attaches remote streams to.
type Roster interface {
	IsMember(participantID string) bool
	AttachStream(participantID string, stream *media.RemoteStream)
	DetachStream(participantID string)
}

type entry struct {
	id   string
	conn PeerConnection
	// op serializes description and candidate steps on conn.
	op sync.Mutex

	// guarded by Manager.mu
	state   ConnectionState
	stream  *media.RemoteStream
	pending []models.ICECandidateInit
}

// Manager owns the peer connection entries of one meeting. It never calls
// the roster, the signaler or the event bus while holding its own lock.
type Manager struct {
	engine   Engine
	signaler Signaler
	emitter  events.Emitter
	cfg      Config
	clock    clock.Clock
	rec      diagnostics.Recorder
	logger   *zap.Logger

	mu        sync.Mutex
	meetingID string
	localID   string
	roster    Roster
	entries   map[string]*entry
	timers    map[string]*clock.Timer
	attempts  map[string]int
	relayOnly map[string]bool
	tracks    map[media.Kind]media.LocalTrack
	streamID  string
}

// NewManager creates a manager. emitter may be nil.
func NewManager(engine Engine, signaler Signaler, emitter events.Emitter, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = diagnostics.Nop{}
	}
	if cfg.DisconnectCheckDelay <= 0 {
		cfg.DisconnectCheckDelay = DefaultDisconnectCheckDelay
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Manager{
		engine:    engine,
		signaler:  signaler,
		emitter:   emitter,
		cfg:       cfg,
		clock:     cfg.Clock,
		rec:       cfg.Recorder,
		logger:    logger,
		entries:   make(map[string]*entry),
		timers:    make(map[string]*clock.Timer),
		attempts:  make(map[string]int),
		relayOnly: make(map[string]bool),
		tracks:    make(map[media.Kind]media.LocalTrack),
	}
}

// Bind points the manager at a meeting. Messages are sent as localID.
func (m *Manager) Bind(meetingID, localID string, roster Roster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetingID = meetingID
	m.localID = localID
	m.roster = roster
}

// Reset closes every entry and forgets the meeting and local tracks.
func (m *Manager) Reset() {
	m.TeardownAll()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetingID, m.localID, m.roster = "", "", nil
	m.tracks = make(map[media.Kind]media.LocalTrack)
	m.streamID = ""
}

// CreateConnection allocates an entry for id unless a live one exists.
func (m *Manager) CreateConnection(id string) error {
	_, err := m.ensure(id)
	return err
}

func (m *Manager) ensure(id string) (*entry, error) {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e != nil && m.live(e) {
		return e, nil
	}
	return m.create(id)
}

func (m *Manager) live(e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[e.id] == e && e.state != StateFailed && e.state != StateClosed
}

// create always builds a fresh entry, closing any previous one for id.
func (m *Manager) create(id string) (*entry, error) {
	m.mu.Lock()
	if m.meetingID == "" {
		m.mu.Unlock()
		return nil, ErrNotBound
	}
	opts := Options{RelayOnly: m.relayOnly[id]}
	tracks := m.localTracksLocked()
	streamID := m.streamID
	m.mu.Unlock()

	conn, err := m.engine.NewPeerConnection(opts)
	if err != nil {
		m.rec.Record(diagnostics.KindHandshake, diagnostics.SeverityHigh, "peer connection could not be created",
			map[string]string{"participant_id": id, "error": err.Error()})
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	e := &entry{id: id, conn: conn, state: StateNew}
	m.wire(e)
	for _, t := range tracks {
		if err := conn.AddTrack(t, streamID); err != nil {
			m.logger.Warn("add local track", zap.String("participant_id", id), zap.String("kind", string(t.Kind())), zap.Error(err))
		}
	}

	m.mu.Lock()
	old := m.entries[id]
	m.entries[id] = e
	m.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	m.logger.Debug("peer connection created", zap.String("participant_id", id), zap.Bool("relay_only", opts.RelayOnly))
	return e, nil
}

func (m *Manager) wire(e *entry) {
	e.conn.OnICECandidate(func(c *models.ICECandidateInit) {
		if c == nil || !m.current(e) {
			return
		}
		if err := m.send(e.id, models.ICECandidate{ICECandidateInit: *c}); err != nil {
			m.logger.Debug("local candidate not sent", zap.String("participant_id", e.id), zap.Error(err))
		}
	})
	e.conn.OnTrack(func(t media.RemoteTrack, streamID string) { m.onTrack(e, t, streamID) })
	e.conn.OnConnectionStateChange(func(s ConnectionState) { m.onStateChange(e, s) })
	e.conn.OnICEConnectionStateChange(func(s ICEConnectionState) {
		m.logger.Debug("ice connection state", zap.String("participant_id", e.id), zap.String("state", string(s)))
	})
}

func (m *Manager) current(e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[e.id] == e
}

func (m *Manager) get(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id]
}

func (m *Manager) send(to string, p models.Payload) error {
	m.mu.Lock()
	meetingID, localID := m.meetingID, m.localID
	m.mu.Unlock()
	if meetingID == "" {
		return ErrNotBound
	}
	msg, err := models.NewMessage(meetingID, localID, to, p, m.clock.Now())
	if err != nil {
		return err
	}
	m.signaler.Send(msg)
	return nil
}

func (m *Manager) emit(typ models.EventType, meetingID, participantID string, data any) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(models.Event{
		Type:          typ,
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Data:          data,
		Timestamp:     m.clock.Now(),
	})
}

// InitiateOffer creates an offer on the entry for id and sends it.
func (m *Manager) InitiateOffer(id string) error {
	e := m.get(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNoEntry, id)
	}
	if err := m.negotiate(e, false); err != nil {
		m.replace(e, err)
		return err
	}
	return nil
}

func (m *Manager) negotiate(e *entry, iceRestart bool) error {
	e.op.Lock()
	defer e.op.Unlock()
	offer, err := e.conn.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := e.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return m.send(e.id, models.Offer{SessionDescription: offer})
}

// HandleOffer answers an offer from a participant, creating or replacing
// its entry as needed. When both sides offered at once, the participant
// with the smaller id keeps its offer and the other side rolls back.
func (m *Manager) HandleOffer(from string, offer models.SessionDescription) error {
	e, err := m.offerTarget(from)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}

	e.op.Lock()
	err = m.answer(e, offer)
	e.op.Unlock()
	if err != nil {
		m.replace(e, err)
		return err
	}
	return nil
}

func (m *Manager) offerTarget(from string) (*entry, error) {
	m.mu.Lock()
	e := m.entries[from]
	localID := m.localID
	m.mu.Unlock()

	if e == nil || !m.live(e) {
		return m.create(from)
	}

	e.op.Lock()
	defer e.op.Unlock()
	if e.conn.SignalingState() != SignalingStateHaveLocalOffer {
		return e, nil
	}
	if localID < from {
		m.logger.Info("offer collision, keeping our offer", zap.String("participant_id", from))
		return nil, nil
	}
	m.logger.Info("offer collision, rolling back our offer", zap.String("participant_id", from))
	if err := e.conn.Rollback(); err != nil {
		m.logger.Warn("rollback failed, recreating connection", zap.String("participant_id", from), zap.Error(err))
		e.op.Unlock()
		fresh, err := m.create(from)
		e.op.Lock()
		return fresh, err
	}
	return e, nil
}

// answer must be called with e.op held.
func (m *Manager) answer(e *entry, offer models.SessionDescription) error {
	offer.Type = "offer"
	if err := e.conn.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	m.flushCandidates(e)
	ans, err := e.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := e.conn.SetLocalDescription(ans); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return m.send(e.id, models.Answer{SessionDescription: ans})
}

// HandleAnswer applies an answer to our outstanding offer. Answers for
// unknown participants or without an outstanding offer are dropped.
func (m *Manager) HandleAnswer(from string, ans models.SessionDescription) error {
	e := m.get(from)
	if e == nil {
		m.logger.Debug("answer for unknown participant", zap.String("participant_id", from))
		return nil
	}

	e.op.Lock()
	if e.conn.SignalingState() != SignalingStateHaveLocalOffer {
		e.op.Unlock()
		m.logger.Debug("answer without outstanding offer", zap.String("participant_id", from))
		return nil
	}
	ans.Type = "answer"
	err := e.conn.SetRemoteDescription(ans)
	if err == nil {
		m.flushCandidates(e)
	}
	e.op.Unlock()

	if err != nil {
		err = fmt.Errorf("set remote answer: %w", err)
		m.replace(e, err)
		return err
	}
	return nil
}

// HandleICECandidate adds a remote candidate, buffering it until the remote
// description is known.
func (m *Manager) HandleICECandidate(from string, c models.ICECandidateInit) error {
	e := m.get(from)
	if e == nil {
		m.logger.Debug("candidate for unknown participant", zap.String("participant_id", from))
		return nil
	}

	e.op.Lock()
	defer e.op.Unlock()
	if !e.conn.HasRemoteDescription() {
		m.mu.Lock()
		e.pending = append(e.pending, c)
		m.mu.Unlock()
		return nil
	}
	if err := e.conn.AddICECandidate(c); err != nil {
		m.logger.Warn("add ice candidate", zap.String("participant_id", from), zap.Error(err))
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// flushCandidates must be called with e.op held.
func (m *Manager) flushCandidates(e *entry) {
	m.mu.Lock()
	pending := e.pending
	e.pending = nil
	m.mu.Unlock()
	for _, c := range pending {
		if err := e.conn.AddICECandidate(c); err != nil {
			m.logger.Warn("add buffered ice candidate", zap.String("participant_id", e.id), zap.Error(err))
		}
	}
}

func (m *Manager) onTrack(e *entry, t media.RemoteTrack, streamID string) {
	m.mu.Lock()
	if m.entries[e.id] != e {
		m.mu.Unlock()
		return
	}
	if e.stream == nil {
		e.stream = media.NewRemoteStream(streamID)
	}
	e.stream.AddTrack(t)
	stream, roster, meetingID := e.stream, m.roster, m.meetingID
	m.mu.Unlock()

	if roster != nil {
		roster.AttachStream(e.id, stream)
	}
	m.emit(models.EventStreamAdded, meetingID, e.id, stream)
}

func (m *Manager) onStateChange(e *entry, s ConnectionState) {
	m.mu.Lock()
	if m.entries[e.id] != e || e.state == s {
		m.mu.Unlock()
		return
	}
	e.state = s
	meetingID := m.meetingID
	failed := false
	switch s {
	case StateConnected:
		m.stopTimerLocked(e.id)
		delete(m.attempts, e.id)
		delete(m.relayOnly, e.id)
	case StateDisconnected:
		if _, pending := m.timers[e.id]; !pending {
			m.scheduleLocked(e.id, m.cfg.DisconnectCheckDelay, func() { m.checkDisconnected(e) })
		}
	case StateFailed:
		m.stopTimerLocked(e.id)
		failed = true
	}
	m.mu.Unlock()

	m.logger.Info("peer connection state", zap.String("participant_id", e.id), zap.String("state", string(s)))
	m.emit(models.EventConnectionState, meetingID, e.id, string(s))
	if failed {
		m.recover(e)
	}
}

func (m *Manager) checkDisconnected(e *entry) {
	m.mu.Lock()
	current := m.entries[e.id] == e
	state := e.state
	roster := m.roster
	m.mu.Unlock()

	if roster == nil || !roster.IsMember(e.id) {
		m.logger.Debug("participant left, disconnect check dropped", zap.String("participant_id", e.id))
		return
	}
	if !current || state != StateDisconnected {
		return
	}
	m.recover(e)
}

// recover makes one recovery attempt on e: an ICE restart, or a full
// re-creation when the restart fails or relay-only ICE is due.
func (m *Manager) recover(e *entry) {
	m.mu.Lock()
	if m.entries[e.id] != e {
		m.mu.Unlock()
		return
	}
	m.attempts[e.id]++
	n := m.attempts[e.id]
	escalate := m.cfg.RelayOnlyAfter > 0 && n > m.cfg.RelayOnlyAfter && !m.relayOnly[e.id]
	if escalate {
		m.relayOnly[e.id] = true
	}
	m.mu.Unlock()

	if limit := m.cfg.MaxRecoveryAttempts; limit > 0 && n > limit {
		m.giveUp(e.id, n)
		return
	}
	if escalate {
		m.logger.Info("switching to relay-only ice", zap.String("participant_id", e.id), zap.Int("attempt", n))
		m.replace(e, errors.New("relay-only ice required"))
		return
	}

	m.logger.Info("restarting ice", zap.String("participant_id", e.id), zap.Int("attempt", n))
	if err := m.negotiate(e, true); err != nil {
		m.replace(e, err)
	}
}

// replace tears e down after an unrecoverable handshake error and schedules
// a full re-creation.
func (m *Manager) replace(e *entry, cause error) {
	m.rec.Record(diagnostics.KindHandshake, diagnostics.SeverityHigh, "peer connection torn down for re-creation",
		map[string]string{"participant_id": e.id, "error": cause.Error()})

	m.mu.Lock()
	if m.entries[e.id] != e {
		m.mu.Unlock()
		return
	}
	delete(m.entries, e.id)
	roster, meetingID := m.roster, m.meetingID
	id := e.id
	m.scheduleLocked(id, m.cfg.ReconnectDelay, func() { m.recreate(id) })
	m.mu.Unlock()

	m.logger.Warn("peer connection torn down", zap.String("participant_id", id), zap.Error(cause))
	_ = e.conn.Close()
	if roster != nil {
		roster.DetachStream(id)
	}
	m.emit(models.EventStreamRemoved, meetingID, id, nil)
}

func (m *Manager) recreate(id string) {
	m.mu.Lock()
	roster := m.roster
	_, exists := m.entries[id]
	m.mu.Unlock()

	if roster == nil || !roster.IsMember(id) {
		m.logger.Debug("participant left, reconnection dropped", zap.String("participant_id", id))
		return
	}
	if exists {
		return
	}

	e, err := m.create(id)
	if err != nil {
		m.retryLater(id, err)
		return
	}
	m.logger.Info("peer connection re-created", zap.String("participant_id", id))
	if err := m.negotiate(e, false); err != nil {
		m.replace(e, err)
	}
}

func (m *Manager) retryLater(id string, cause error) {
	m.mu.Lock()
	m.attempts[id]++
	n := m.attempts[id]
	limit := m.cfg.MaxRecoveryAttempts
	if limit <= 0 || n <= limit {
		m.scheduleLocked(id, m.cfg.ReconnectDelay, func() { m.recreate(id) })
		m.mu.Unlock()
		m.logger.Warn("re-creation failed, retrying", zap.String("participant_id", id), zap.Error(cause))
		return
	}
	m.mu.Unlock()
	m.giveUp(id, n)
}

func (m *Manager) giveUp(id string, attempts int) {
	m.rec.Record(diagnostics.KindHandshake, diagnostics.SeverityCritical, "recovery attempts exhausted",
		map[string]string{"participant_id": id, "attempts": strconv.Itoa(attempts - 1)})

	m.mu.Lock()
	e := m.entries[id]
	delete(m.entries, id)
	m.stopTimerLocked(id)
	delete(m.attempts, id)
	delete(m.relayOnly, id)
	roster, meetingID := m.roster, m.meetingID
	m.mu.Unlock()

	m.logger.Error("giving up on participant", zap.String("participant_id", id), zap.Int("attempts", attempts-1))
	if e != nil {
		_ = e.conn.Close()
	}
	if roster != nil {
		roster.DetachStream(id)
	}
	m.emit(models.EventStreamRemoved, meetingID, id, nil)
	m.emit(models.EventConnectionState, meetingID, id, string(StateFailed))
}

// scheduleLocked replaces any pending timer for id. Must be called with
// m.mu held.
func (m *Manager) scheduleLocked(id string, d time.Duration, f func()) {
	m.stopTimerLocked(id)
	var t *clock.Timer
	t = m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		if m.timers[id] != t {
			m.mu.Unlock()
			return
		}
		delete(m.timers, id)
		m.mu.Unlock()
		f()
	})
	m.timers[id] = t
}

func (m *Manager) stopTimerLocked(id string) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// Teardown closes and discards the entry for id and cancels its recovery.
func (m *Manager) Teardown(id string) {
	m.mu.Lock()
	e := m.entries[id]
	delete(m.entries, id)
	m.stopTimerLocked(id)
	delete(m.attempts, id)
	delete(m.relayOnly, id)
	m.mu.Unlock()

	if e != nil {
		_ = e.conn.Close()
		m.logger.Debug("peer connection closed", zap.String("participant_id", id))
	}
}

// TeardownAll closes every entry and cancels every pending recovery.
func (m *Manager) TeardownAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	m.attempts = make(map[string]int)
	m.relayOnly = make(map[string]bool)
	m.mu.Unlock()

	for _, e := range entries {
		_ = e.conn.Close()
	}
}

// SetLocalStream makes stream's tracks the outgoing media of every current
// and future entry. A nil stream detaches all outgoing tracks.
func (m *Manager) SetLocalStream(stream *media.LocalStream) {
	m.mu.Lock()
	prev := m.tracks
	m.tracks = make(map[media.Kind]media.LocalTrack)
	m.streamID = ""
	if stream != nil {
		m.streamID = stream.ID()
		for _, t := range stream.Tracks() {
			if _, ok := m.tracks[t.Kind()]; !ok {
				m.tracks[t.Kind()] = t
			}
		}
	}
	next := m.tracks
	entries := m.entriesLocked()
	m.mu.Unlock()

	for _, kind := range []media.Kind{media.KindAudio, media.KindVideo} {
		if prev[kind] == nil && next[kind] == nil {
			continue
		}
		for _, e := range entries {
			m.pushTrack(e, kind, next[kind])
		}
	}
}

// ReplaceTrack swaps the outgoing track of kind on every entry, as when
// screen sharing takes over the camera's video sender.
func (m *Manager) ReplaceTrack(kind media.Kind, track media.LocalTrack) {
	m.mu.Lock()
	if track == nil {
		delete(m.tracks, kind)
	} else {
		m.tracks[kind] = track
	}
	entries := m.entriesLocked()
	m.mu.Unlock()

	for _, e := range entries {
		m.pushTrack(e, kind, track)
	}
}

func (m *Manager) pushTrack(e *entry, kind media.Kind, track media.LocalTrack) {
	m.mu.Lock()
	streamID := m.streamID
	m.mu.Unlock()

	e.op.Lock()
	replaced, err := e.conn.ReplaceTrack(kind, track)
	if err == nil && !replaced && track != nil {
		err = e.conn.AddTrack(track, streamID)
	}
	renegotiate := err == nil && !replaced && track != nil && e.conn.ConnectionState() == StateConnected
	e.op.Unlock()

	if err != nil {
		m.logger.Warn("update outgoing track", zap.String("participant_id", e.id), zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if renegotiate {
		if err := m.negotiate(e, false); err != nil {
			m.logger.Warn("renegotiate after new track", zap.String("participant_id", e.id), zap.Error(err))
		}
	}
}

func (m *Manager) localTracksLocked() []media.LocalTrack {
	var out []media.LocalTrack
	for _, kind := range []media.Kind{media.KindAudio, media.KindVideo} {
		if t := m.tracks[kind]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) entriesLocked() []*entry {
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// State returns the state of the entry for id.
func (m *Manager) State(id string) (ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return "", false
	}
	return e.state, true
}

// Count returns the number of entries.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Participants returns the ids with an entry, sorted.
func (m *Manager) Participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot maps participant id to entry state.
func (m *Manager) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.entries))
	for id, e := range m.entries {
		out[id] = string(e.state)
	}
	return out
}

// PendingRecovery reports whether a recovery timer is armed for id.
func (m *Manager) PendingRecovery(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[id]
	return ok
}

// Attempts returns the consecutive recovery attempts made for id.
func (m *Manager) Attempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

// Capabilities reports the engine's support flags.
func (m *Manager) Capabilities() map[string]bool {
	return m.engine.Capabilities()
}
