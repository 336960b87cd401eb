// Package meeting holds the local participant's view of one meeting: the
// roster, host election, local media and the meeting lifecycle.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/auth"
	"github.com/aura-webinar/meshmeet/internal/clock"
	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/events"
	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/models"
	"github.com/aura-webinar/meshmeet/internal/peer"
	"github.com/aura-webinar/meshmeet/internal/signaling"
	"github.com/aura-webinar/meshmeet/internal/store"
)

var (
	ErrNoActiveMeeting  = errors.New("no active meeting")
	ErrAlreadyInMeeting = errors.New("already in a meeting")
	ErrEmptyMessage     = errors.New("empty chat message")
)

const storeTimeout = 5 * time.Second

// Deps are the collaborators of a Session. Identity, Transport and Peers
// are required.
type Deps struct {
	Identity  auth.Provider
	Transport signaling.Transport
	Peers     *peer.Manager
	Devices   media.Devices
	Events    events.Emitter
	Recorder  diagnostics.Recorder
	Store     store.Store
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Session is safe for concurrent use. It never calls the transport, the
// peer manager or the event bus while holding its lock.
type Session struct {
	identity  auth.Provider
	transport signaling.Transport
	peers     *peer.Manager
	devices   media.Devices
	emitter   events.Emitter
	rec       diagnostics.Recorder
	store     store.Store
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	meeting *models.Meeting
	self    auth.Identity
	camera  *media.LocalStream
	screen  *media.LocalStream
	unsub   func()
	unhook  func()
}

func New(deps Deps) (*Session, error) {
	if deps.Identity == nil || deps.Transport == nil || deps.Peers == nil {
		return nil, errors.New("meeting: identity, transport and peers are required")
	}
	s := &Session{
		identity:  deps.Identity,
		transport: deps.Transport,
		peers:     deps.Peers,
		devices:   deps.Devices,
		emitter:   deps.Events,
		rec:       deps.Recorder,
		store:     deps.Store,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if s.rec == nil {
		s.rec = diagnostics.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.unsub = s.transport.Subscribe(s.handle)
	if r, ok := s.transport.(signaling.Reconnector); ok {
		s.unhook = r.OnReconnect(s.reannounce)
	}
	return s, nil
}

func (s *Session) currentIdentity() (auth.Identity, error) {
	id, err := s.identity.Current()
	if err != nil {
		s.rec.Record(diagnostics.KindAuth, diagnostics.SeverityCritical, "no local identity", map[string]string{"error": err.Error()})
		return auth.Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	return id, nil
}

// CreateMeeting starts a new meeting with the local participant as its only
// member and host.
func (s *Session) CreateMeeting(title string) (*models.Meeting, error) {
	self, err := s.currentIdentity()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.meeting != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyInMeeting
	}
	m := models.NewMeeting(uuid.NewString(), title, s.clock.Now())
	m.HostID = self.ID
	m.Participants[self.ID] = s.localParticipantLocked(self, true)
	s.meeting = m
	s.self = self
	out := m.Clone()
	s.mu.Unlock()

	s.peers.Bind(m.ID, self.ID, s)
	s.announce(m.ID, self, true)
	s.persist("save meeting", func(ctx context.Context) error {
		return s.store.SaveMeeting(ctx, models.MeetingRecord{ID: m.ID, Title: title, HostID: self.ID, CreatedAt: m.CreatedAt})
	})
	s.persist("log join", func(ctx context.Context) error {
		return s.store.LogJoin(ctx, m.ID, self.ID, self.Name, m.CreatedAt)
	})

	s.logger.Info("meeting created", zap.String("meeting_id", m.ID), zap.String("participant_id", self.ID))
	s.emit(models.EventParticipantJoined, m.ID, self.ID, *out.Participants[self.ID])
	return out, nil
}

// JoinMeeting joins an existing meeting. Host status and the roster are
// learned from the meeting-participants reply.
func (s *Session) JoinMeeting(meetingID string) (*models.Meeting, error) {
	if meetingID == "" {
		return nil, errors.New("meeting id is required")
	}
	self, err := s.currentIdentity()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.meeting != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyInMeeting
	}
	m := models.NewMeeting(meetingID, "Meeting "+meetingID, s.clock.Now())
	m.Participants[self.ID] = s.localParticipantLocked(self, false)
	s.meeting = m
	s.self = self
	out := m.Clone()
	s.mu.Unlock()

	s.peers.Bind(meetingID, self.ID, s)
	s.logger.Info("joining meeting", zap.String("meeting_id", meetingID), zap.String("participant_id", self.ID))
	s.announce(meetingID, self, false)
	s.persist("log join", func(ctx context.Context) error {
		return s.store.LogJoin(ctx, meetingID, self.ID, self.Name, m.CreatedAt)
	})

	s.emit(models.EventParticipantJoined, meetingID, self.ID, *out.Participants[self.ID])
	return out, nil
}

// localParticipantLocked builds the local participant, carrying over any
// camera started before the meeting.
func (s *Session) localParticipantLocked(self auth.Identity, host bool) *models.Participant {
	p := &models.Participant{ID: self.ID, Name: self.Name, IsHost: host}
	if s.camera != nil {
		p.IsCameraOn = true
		p.Stream = s.camera
		if a := s.camera.AudioTrack(); a != nil {
			p.IsMuted = !a.Enabled()
		}
	}
	p.IsScreenSharing = s.screen != nil
	return p
}

func (s *Session) announce(meetingID string, self auth.Identity, host bool) {
	s.send(meetingID, self.ID, "", models.JoinMeeting{ParticipantInfo: models.ParticipantInfo{
		ParticipantID:   self.ID,
		ParticipantName: self.Name,
		IsHost:          host,
	}})
}

// reannounce repeats our join-meeting on a replaced signaling connection so
// the relay or rendezvous routes to us again. Roles are kept.
func (s *Session) reannounce() {
	s.mu.Lock()
	m := s.meeting
	self := s.self
	if m == nil {
		s.mu.Unlock()
		return
	}
	meetingID, host := m.ID, m.HostID == self.ID
	s.mu.Unlock()

	s.logger.Info("signaling reconnected, announcing again",
		zap.String("meeting_id", meetingID),
		zap.String("participant_id", self.ID),
		zap.String("transport", string(s.transport.Kind())),
		zap.Bool("host", host))
	s.announce(meetingID, self, host)
}

func (s *Session) send(meetingID, from, to string, p models.Payload) {
	msg, err := models.NewMessage(meetingID, from, to, p, s.clock.Now())
	if err != nil {
		s.logger.Error("encode signaling message", zap.String("type", string(p.MessageType())), zap.Error(err))
		return
	}
	s.transport.Send(msg)
}

// LeaveMeeting announces departure, closes every connection and stops local
// media. It is a no-op without an active meeting.
func (s *Session) LeaveMeeting() {
	s.mu.Lock()
	m := s.meeting
	if m == nil {
		s.mu.Unlock()
		return
	}
	self := s.self
	camera, screen := s.camera, s.screen
	s.meeting, s.camera, s.screen = nil, nil, nil
	delete(m.Participants, self.ID)
	var newHost string
	var hostChanged bool
	if m.HostID == self.ID || len(m.Participants) == 0 {
		newHost, hostChanged = m.ElectHost()
	}
	ended := !m.IsActive
	s.mu.Unlock()

	s.send(m.ID, self.ID, "", models.ParticipantLeft{ParticipantID: self.ID})
	s.peers.Reset()
	if camera != nil {
		camera.Stop()
	}
	if screen != nil {
		screen.Stop()
	}

	now := s.clock.Now()
	s.persist("log leave", func(ctx context.Context) error {
		return s.store.LogLeave(ctx, m.ID, self.ID, now)
	})
	if ended {
		s.persist("end meeting", func(ctx context.Context) error {
			return s.store.EndMeeting(ctx, m.ID, now)
		})
	}

	s.logger.Info("left meeting", zap.String("meeting_id", m.ID), zap.String("participant_id", self.ID))
	s.emit(models.EventParticipantLeft, m.ID, self.ID, nil)
	if hostChanged && newHost != "" {
		s.emit(models.EventHostChanged, m.ID, newHost, nil)
	}
	if ended {
		s.emit(models.EventMeetingEnded, m.ID, self.ID, nil)
	}
}

// Close leaves any meeting and stops listening to the transport.
func (s *Session) Close() {
	s.LeaveMeeting()
	s.mu.Lock()
	unsub, unhook := s.unsub, s.unhook
	s.unsub, s.unhook = nil, nil
	camera := s.camera
	s.camera = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if unhook != nil {
		unhook()
	}
	if camera != nil {
		camera.Stop()
	}
}

// Meeting returns a copy of the current meeting, or nil.
func (s *Session) Meeting() *models.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meeting.Clone()
}

// Participants returns copies of the roster sorted by id.
func (s *Session) Participants() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return nil
	}
	out := make([]models.Participant, 0, len(s.meeting.Participants))
	for _, id := range s.meeting.ParticipantIDs() {
		out = append(out, *s.meeting.Participants[id])
	}
	return out
}

// LocalID returns the local participant id of the current meeting.
func (s *Session) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return ""
	}
	return s.self.ID
}

func (s *Session) LocalStream() *media.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

func (s *Session) ScreenStream() *media.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// Summary describes the session for diagnostics snapshots.
func (s *Session) Summary() diagnostics.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := diagnostics.SessionSummary{
		HasLocalStream:  s.camera != nil,
		HasScreenStream: s.screen != nil,
	}
	if m := s.meeting; m != nil {
		sum.MeetingID = m.ID
		sum.Title = m.Title
		sum.HostID = m.HostID
		sum.LocalID = s.self.ID
		sum.IsHost = m.HostID == s.self.ID
		sum.IsActive = m.IsActive
		sum.Participants = len(m.Participants)
	}
	return sum
}

// IsMember reports whether id is in the current roster.
func (s *Session) IsMember(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return false
	}
	_, ok := s.meeting.Participants[id]
	return ok
}

func (s *Session) AttachStream(id string, stream *media.RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return
	}
	if p, ok := s.meeting.Participants[id]; ok {
		p.Stream = stream
	}
}

func (s *Session) DetachStream(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return
	}
	if p, ok := s.meeting.Participants[id]; ok {
		p.Stream = nil
	}
}

func (s *Session) emit(typ models.EventType, meetingID, participantID string, data any) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(models.Event{
		Type:          typ,
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Data:          data,
		Timestamp:     s.clock.Now(),
	})
}

// persist runs a best-effort store write.
func (s *Session) persist(op string, f func(ctx context.Context) error) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := f(ctx); err != nil {
		s.logger.Warn("meeting store write failed", zap.String("op", op), zap.Error(err))
	}
}

func sortedInfos(in []models.ParticipantInfo) []models.ParticipantInfo {
	out := make([]models.ParticipantInfo, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
