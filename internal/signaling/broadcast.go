package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/clock"
	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/models"
)

const (
	// RendezvousSender is the fromParticipant of rendezvous replies.
	RendezvousSender = "server"
	// DefaultSettleDelay is how long a join waits for presence echoes from
	// existing members before the roster reply is sent.
	DefaultSettleDelay = 100 * time.Millisecond

	publishTimeout = 5 * time.Second
)

// BroadcastOptions configures a BroadcastTransport.
type BroadcastOptions struct {
	SettleDelay time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
	Recorder    diagnostics.Recorder
}

// BroadcastTransport sends JSON messages over a Bus and doubles as the
// meeting rendezvous when no relay is reachable.
//
// Every transport on the bus learns meeting membership from the join-meeting
// and participant-left messages it observes. When a participant joins through
// this transport, members held by other transports echo a join-meeting
// addressed to the newcomer, and after SettleDelay this transport replies with
// a meeting-participants message listing everyone it knows. Echoes are
// consumed here and never reach subscribers.
type BroadcastTransport struct {
	bus    Bus
	subs   *subscribers
	clock  clock.Clock
	settle time.Duration
	logger *zap.Logger
	rec    diagnostics.Recorder

	connected atomic.Bool
	cancel    func()

	mu sync.Mutex
	// meetingID -> participantID -> name, for everyone observed on the bus.
	rooms map[string]map[string]string
	// meetingID -> participantID -> name, for participants joined through us.
	local map[string]map[string]string
	// meetingID -> participantID -> pending or completed roster reply.
	joins map[string]map[string]*joinState
}

type joinState struct {
	timer   *clock.Timer
	replied bool
}

// NewBroadcast subscribes to bus and returns a connected transport.
func NewBroadcast(ctx context.Context, bus Bus, opts BroadcastOptions) (*BroadcastTransport, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = diagnostics.Nop{}
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	t := &BroadcastTransport{
		bus:    bus,
		subs:   newSubscribers(opts.Logger),
		clock:  opts.Clock,
		settle: opts.SettleDelay,
		logger: opts.Logger,
		rec:    opts.Recorder,
		rooms:  make(map[string]map[string]string),
		local:  make(map[string]map[string]string),
		joins:  make(map[string]map[string]*joinState),
	}
	cancel, err := bus.Subscribe(context.WithoutCancel(ctx), t.receive)
	if err != nil {
		return nil, fmt.Errorf("broadcast subscribe: %w", err)
	}
	t.cancel = cancel
	t.connected.Store(true)
	t.logger.Info("broadcast signaling initialized")
	return t, nil
}

func (t *BroadcastTransport) Kind() Kind { return KindBroadcast }

func (t *BroadcastTransport) IsConnected() bool { return t.connected.Load() }

func (t *BroadcastTransport) Subscribe(h Handler) func() { return t.subs.add(h) }

// Send publishes msg on the bus. Local join-meeting and participant-left
// messages also update which participants this transport answers for.
func (t *BroadcastTransport) Send(msg models.SignalingMessage) {
	if !t.IsConnected() {
		t.logger.Warn("signaling not connected, message not sent", zap.String("type", string(msg.Type)))
		t.rec.Record(diagnostics.KindNetwork, diagnostics.SeverityMedium, "send on disconnected broadcast transport",
			map[string]string{"type": string(msg.Type), "meeting_id": msg.MeetingID})
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = t.clock.Now()
	}

	switch msg.Type {
	case models.TypeJoinMeeting:
		if msg.To == "" {
			t.mu.Lock()
			t.track(msg.MeetingID, msg.From, nameOf(msg))
			t.mu.Unlock()
		}
	case models.TypeParticipantLeft:
		t.mu.Lock()
		t.untrack(msg.MeetingID, msg.From)
		t.mu.Unlock()
	}

	t.publish(msg)
}

func (t *BroadcastTransport) publish(msg models.SignalingMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("encode signaling message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := t.bus.Publish(ctx, body); err != nil {
		t.logger.Warn("broadcast publish failed", zap.String("type", string(msg.Type)), zap.Error(err))
		t.rec.Record(diagnostics.KindNetwork, diagnostics.SeverityMedium, "broadcast publish failed",
			map[string]string{"type": string(msg.Type), "error": err.Error()})
	}
}

func (t *BroadcastTransport) receive(payload []byte) {
	var msg models.SignalingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.logger.Warn("dropping undecodable broadcast payload", zap.Error(err))
		t.rec.Record(diagnostics.KindSignaling, diagnostics.SeverityLow, "undecodable broadcast payload",
			map[string]string{"error": err.Error()})
		return
	}

	switch msg.Type {
	case models.TypeJoinMeeting:
		if msg.To != "" {
			t.presence(msg)
			return
		}
		t.join(msg)
	case models.TypeParticipantLeft:
		if !t.leave(msg) {
			return
		}
	}
	t.subs.dispatch(msg)
}

// join registers an announced participant. If the participant joined
// through this transport a roster reply is scheduled; otherwise every local
// member of the meeting echoes its presence to the newcomer.
func (t *BroadcastTransport) join(msg models.SignalingMessage) {
	t.mu.Lock()
	t.register(msg.MeetingID, msg.From, nameOf(msg))

	_, isLocal := t.local[msg.MeetingID][msg.From]
	if isLocal {
		t.scheduleReply(msg.MeetingID, msg.From)
		t.mu.Unlock()
		return
	}

	echoes := make([]models.ParticipantInfo, 0, len(t.local[msg.MeetingID]))
	for id, name := range t.local[msg.MeetingID] {
		echoes = append(echoes, models.ParticipantInfo{ParticipantID: id, ParticipantName: name})
	}
	t.mu.Unlock()

	for _, info := range echoes {
		echo, err := models.NewMessage(msg.MeetingID, info.ParticipantID, msg.From, models.JoinMeeting{ParticipantInfo: info}, t.clock.Now())
		if err != nil {
			t.logger.Error("encode presence echo", zap.Error(err))
			continue
		}
		t.publish(echo)
	}
}

// presence handles an echo addressed to one of our joiners.
func (t *BroadcastTransport) presence(msg models.SignalingMessage) {
	t.mu.Lock()
	if _, ok := t.local[msg.MeetingID][msg.To]; !ok {
		t.mu.Unlock()
		return
	}
	_, known := t.rooms[msg.MeetingID][msg.From]
	t.register(msg.MeetingID, msg.From, nameOf(msg))
	state := t.joins[msg.MeetingID][msg.To]
	late := !known && state != nil && state.replied
	t.mu.Unlock()

	// The roster reply already went out without this member.
	if late {
		t.reply(msg.MeetingID, msg.To, []models.ParticipantInfo{{ParticipantID: msg.From, ParticipantName: nameOf(msg)}})
	}
}

// leave forgets the departing participant. A participant may only announce
// its own departure; leaves naming someone else are dropped.
func (t *BroadcastTransport) leave(msg models.SignalingMessage) bool {
	id := msg.From
	var body models.ParticipantLeft
	if len(msg.Data) > 0 && json.Unmarshal(msg.Data, &body) == nil && body.ParticipantID != "" {
		if id == "" {
			id = body.ParticipantID
		} else if body.ParticipantID != id {
			t.logger.Warn("dropping participant-left for another participant",
				zap.String("meeting_id", msg.MeetingID),
				zap.String("from", msg.From),
				zap.String("participant_id", body.ParticipantID))
			t.rec.Record(diagnostics.KindSignaling, diagnostics.SeverityMedium, "participant-left sent for another participant",
				map[string]string{"meeting_id": msg.MeetingID, "from": msg.From, "participant_id": body.ParticipantID})
			return false
		}
	}
	if id == "" {
		return true
	}
	t.mu.Lock()
	t.untrack(msg.MeetingID, id)
	if room, ok := t.rooms[msg.MeetingID]; ok {
		delete(room, id)
		if len(room) == 0 {
			delete(t.rooms, msg.MeetingID)
		}
	}
	t.mu.Unlock()
	return true
}

// scheduleReply must be called with t.mu held.
func (t *BroadcastTransport) scheduleReply(meetingID, joiner string) {
	if t.joins[meetingID] == nil {
		t.joins[meetingID] = make(map[string]*joinState)
	}
	if prev := t.joins[meetingID][joiner]; prev != nil {
		prev.timer.Stop()
	}
	state := &joinState{}
	t.joins[meetingID][joiner] = state
	state.timer = t.clock.AfterFunc(t.settle, func() {
		t.mu.Lock()
		if t.joins[meetingID][joiner] != state {
			t.mu.Unlock()
			return
		}
		state.replied = true
		roster := t.rosterLocked(meetingID, joiner)
		t.mu.Unlock()
		t.reply(meetingID, joiner, roster)
	})
}

func (t *BroadcastTransport) reply(meetingID, joiner string, roster []models.ParticipantInfo) {
	msg, err := models.NewMessage(meetingID, RendezvousSender, joiner, models.MeetingParticipants{Participants: roster}, t.clock.Now())
	if err != nil {
		t.logger.Error("encode meeting-participants", zap.Error(err))
		return
	}
	t.logger.Debug("sending meeting participants",
		zap.String("meeting_id", meetingID),
		zap.String("participant_id", joiner),
		zap.Int("count", len(roster)))
	t.publish(msg)
}

func (t *BroadcastTransport) rosterLocked(meetingID, exclude string) []models.ParticipantInfo {
	roster := make([]models.ParticipantInfo, 0, len(t.rooms[meetingID]))
	for id, name := range t.rooms[meetingID] {
		if id == exclude {
			continue
		}
		roster = append(roster, models.ParticipantInfo{ParticipantID: id, ParticipantName: name})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ParticipantID < roster[j].ParticipantID })
	return roster
}

func (t *BroadcastTransport) register(meetingID, id, name string) {
	if t.rooms[meetingID] == nil {
		t.rooms[meetingID] = make(map[string]string)
	}
	if name == "" {
		name = id
	}
	t.rooms[meetingID][id] = name
}

func (t *BroadcastTransport) track(meetingID, id, name string) {
	if t.local[meetingID] == nil {
		t.local[meetingID] = make(map[string]string)
	}
	if name == "" {
		name = id
	}
	t.local[meetingID][id] = name
}

func (t *BroadcastTransport) untrack(meetingID, id string) {
	if room, ok := t.local[meetingID]; ok {
		delete(room, id)
		if len(room) == 0 {
			delete(t.local, meetingID)
		}
	}
	if joins, ok := t.joins[meetingID]; ok {
		if state, ok := joins[id]; ok {
			state.timer.Stop()
			delete(joins, id)
		}
		if len(joins) == 0 {
			delete(t.joins, meetingID)
		}
	}
}

// Meetings returns the number of meetings with known members.
func (t *BroadcastTransport) Meetings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// Members returns the ids registered for meetingID, sorted.
func (t *BroadcastTransport) Members(meetingID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.rooms[meetingID]))
	for id := range t.rooms[meetingID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close unsubscribes from the bus and cancels pending replies.
func (t *BroadcastTransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	t.mu.Lock()
	for _, joins := range t.joins {
		for _, state := range joins {
			state.timer.Stop()
		}
	}
	t.joins = make(map[string]map[string]*joinState)
	t.mu.Unlock()
	t.cancel()
	return nil
}

func nameOf(msg models.SignalingMessage) string {
	var info models.ParticipantInfo
	if len(msg.Data) > 0 && json.Unmarshal(msg.Data, &info) == nil {
		return info.ParticipantName
	}
	return ""
}
