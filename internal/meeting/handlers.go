package meeting

import (
	"context"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/models"
	"github.com/aura-webinar/meshmeet/internal/peer"
)

// handle is the transport subscriber. Messages for other meetings or other
// participants, and our own broadcasts, are ignored.
func (s *Session) handle(msg models.SignalingMessage) {
	s.mu.Lock()
	m := s.meeting
	self := s.self
	s.mu.Unlock()
	if m == nil || !msg.For(m.ID, self.ID) || msg.From == self.ID {
		return
	}

	payload, err := models.Decode(msg)
	if err != nil {
		s.logger.Warn("dropping signaling message", zap.String("type", string(msg.Type)), zap.String("from", msg.From), zap.Error(err))
		s.rec.Record(diagnostics.KindSignaling, diagnostics.SeverityLow, "malformed signaling message",
			map[string]string{"type": string(msg.Type), "from": msg.From, "error": err.Error()})
		return
	}

	switch p := payload.(type) {
	case models.Offer:
		s.onOffer(msg.From, p)
	case models.Answer:
		if err := s.peers.HandleAnswer(msg.From, p.SessionDescription); err != nil {
			s.logger.Warn("answer rejected", zap.String("participant_id", msg.From), zap.Error(err))
		}
	case models.ICECandidate:
		if err := s.peers.HandleICECandidate(msg.From, p.ICECandidateInit); err != nil {
			s.logger.Debug("candidate rejected", zap.String("participant_id", msg.From), zap.Error(err))
		}
	case models.ParticipantJoined:
		s.onJoined(msg.From, p.ParticipantInfo)
	case models.JoinMeeting:
		s.onJoined(msg.From, p.ParticipantInfo)
	case models.ParticipantLeft:
		if p.ParticipantID != msg.From {
			s.logger.Warn("dropping participant-left for another participant",
				zap.String("from", msg.From), zap.String("participant_id", p.ParticipantID))
			s.rec.Record(diagnostics.KindSignaling, diagnostics.SeverityMedium, "participant-left sent for another participant",
				map[string]string{"from": msg.From, "participant_id": p.ParticipantID})
			return
		}
		s.onLeft(p.ParticipantID)
	case models.MeetingParticipants:
		s.onParticipants(p.Participants)
	case models.ChatMessage:
		s.emit(models.EventChatMessage, msg.MeetingID, msg.From, p)
	}
}

// onParticipants handles the reply to our join-meeting. An empty roster
// makes us host; otherwise we offer to everyone we have not negotiated with.
// Neither a host nor a member re-announcing after a reconnect changes roles.
func (s *Session) onParticipants(roster []models.ParticipantInfo) {
	s.mu.Lock()
	m := s.meeting
	if m == nil {
		s.mu.Unlock()
		return
	}
	self := s.self

	var joined []models.Participant
	var offerTo []string
	hostChanged := false
	others := 0
	for _, info := range sortedInfos(roster) {
		if info.ParticipantID == self.ID {
			continue
		}
		others++
		if _, known := m.Participants[info.ParticipantID]; !known {
			p := &models.Participant{ID: info.ParticipantID, Name: nameOr(info)}
			m.Participants[p.ID] = p
			joined = append(joined, *p)
		}
		offerTo = append(offerTo, info.ParticipantID)
	}

	// An empty reply only means an empty meeting when we know of nobody
	// else; after a reconnect the others may not have re-announced yet.
	if others == 0 && len(m.Participants) == 1 {
		if m.HostID != self.ID {
			for id, p := range m.Participants {
				p.IsHost = id == self.ID
			}
			m.HostID = self.ID
			m.Title = self.Name + "'s Meeting"
			hostChanged = true
		}
	}
	meetingID, title, created := m.ID, m.Title, m.CreatedAt
	s.mu.Unlock()

	for _, p := range joined {
		s.emit(models.EventParticipantJoined, meetingID, p.ID, p)
	}
	if hostChanged {
		s.logger.Info("empty meeting, taking host", zap.String("meeting_id", meetingID))
		s.persist("save meeting", func(ctx context.Context) error {
			return s.store.SaveMeeting(ctx, models.MeetingRecord{ID: meetingID, Title: title, HostID: self.ID, CreatedAt: created})
		})
		s.emit(models.EventHostChanged, meetingID, self.ID, nil)
	}
	for _, id := range offerTo {
		s.connect(id)
	}
}

// connect creates an entry for id and offers unless negotiation with id is
// already under way.
func (s *Session) connect(id string) {
	if state, ok := s.peers.State(id); ok && state != peer.StateNew {
		return
	}
	if err := s.peers.CreateConnection(id); err != nil {
		s.logger.Warn("create connection", zap.String("participant_id", id), zap.Error(err))
		return
	}
	if err := s.peers.InitiateOffer(id); err != nil {
		s.logger.Warn("initiate offer", zap.String("participant_id", id), zap.Error(err))
	}
}

// onJoined registers a newcomer announced by join-meeting or
// participant-joined. The newcomer offers to us; we only prepare an entry.
// A host introduces itself to each newcomer, since rosters carry no host.
func (s *Session) onJoined(from string, info models.ParticipantInfo) {
	s.mu.Lock()
	m := s.meeting
	if m == nil || info.ParticipantID == s.self.ID {
		s.mu.Unlock()
		return
	}
	self := s.self
	claimsHost := info.IsHost && from == info.ParticipantID

	p, known := m.Participants[info.ParticipantID]
	if !known {
		p = &models.Participant{ID: info.ParticipantID, Name: nameOr(info)}
		m.Participants[p.ID] = p
	} else if info.ParticipantName != "" {
		p.Name = info.ParticipantName
	}
	hostChanged := false
	if claimsHost && m.HostID != p.ID {
		for _, other := range m.Participants {
			other.IsHost = false
		}
		p.IsHost = true
		m.HostID = p.ID
		hostChanged = true
	}
	introduce := !known && m.HostID == self.ID
	meetingID := m.ID
	joined := *p
	s.mu.Unlock()

	if !known {
		s.logger.Info("participant joined", zap.String("meeting_id", meetingID), zap.String("participant_id", joined.ID))
		if err := s.peers.CreateConnection(joined.ID); err != nil {
			s.logger.Warn("create connection", zap.String("participant_id", joined.ID), zap.Error(err))
		}
		s.emit(models.EventParticipantJoined, meetingID, joined.ID, joined)
	}
	if hostChanged {
		s.emit(models.EventHostChanged, meetingID, joined.ID, nil)
	}
	if introduce {
		s.send(meetingID, self.ID, joined.ID, models.ParticipantJoined{ParticipantInfo: models.ParticipantInfo{
			ParticipantID:   self.ID,
			ParticipantName: self.Name,
			IsHost:          true,
		}})
	}
}

// onOffer registers an unknown sender before answering.
func (s *Session) onOffer(from string, offer models.Offer) {
	s.mu.Lock()
	m := s.meeting
	if m == nil {
		s.mu.Unlock()
		return
	}
	var joined *models.Participant
	if _, known := m.Participants[from]; !known {
		joined = &models.Participant{ID: from, Name: from}
		m.Participants[from] = joined
	}
	meetingID := m.ID
	s.mu.Unlock()

	if joined != nil {
		s.emit(models.EventParticipantJoined, meetingID, from, *joined)
	}
	if err := s.peers.HandleOffer(from, offer.SessionDescription); err != nil {
		s.logger.Warn("offer rejected", zap.String("participant_id", from), zap.Error(err))
	}
}

// onLeft removes a participant and re-elects the host if needed.
func (s *Session) onLeft(id string) {
	s.mu.Lock()
	m := s.meeting
	if m == nil || id == s.self.ID {
		s.mu.Unlock()
		return
	}
	p, known := m.Participants[id]
	if !known {
		s.mu.Unlock()
		s.peers.Teardown(id)
		return
	}
	delete(m.Participants, id)
	var newHost string
	hostChanged := false
	if m.HostID == id {
		newHost, hostChanged = m.ElectHost()
	}
	self := s.self
	meetingID, title, created := m.ID, m.Title, m.CreatedAt
	hadStream := p.Stream != nil
	s.mu.Unlock()

	s.peers.Teardown(id)
	s.logger.Info("participant left", zap.String("meeting_id", meetingID), zap.String("participant_id", id))
	if hadStream {
		s.emit(models.EventStreamRemoved, meetingID, id, nil)
	}
	s.emit(models.EventParticipantLeft, meetingID, id, nil)
	if hostChanged && newHost != "" {
		s.logger.Info("host changed", zap.String("meeting_id", meetingID), zap.String("host_id", newHost))
		if newHost == self.ID {
			s.persist("save meeting", func(ctx context.Context) error {
				return s.store.SaveMeeting(ctx, models.MeetingRecord{ID: meetingID, Title: title, HostID: newHost, CreatedAt: created})
			})
		}
		s.emit(models.EventHostChanged, meetingID, newHost, nil)
	}
}

func nameOr(info models.ParticipantInfo) string {
	if info.ParticipantName != "" {
		return info.ParticipantName
	}
	return info.ParticipantID
}
