package meeting_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/aura-webinar/meshmeet/internal/auth"
	"github.com/aura-webinar/meshmeet/internal/clock"
	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/events"
	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/meeting"
	"github.com/aura-webinar/meshmeet/internal/models"
	"github.com/aura-webinar/meshmeet/internal/peer"
	"github.com/aura-webinar/meshmeet/internal/peer/peertest"
	"github.com/aura-webinar/meshmeet/internal/signaling"
	"github.com/aura-webinar/meshmeet/internal/store"
)

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) listen(e models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) of(typ models.EventType) []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// wire records every message published on the bus.
type wire struct {
	mu   sync.Mutex
	msgs []models.SignalingMessage
}

func (w *wire) record(payload []byte) {
	var msg models.SignalingMessage
	if json.Unmarshal(payload, &msg) != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
}

func (w *wire) count(typ models.MessageType, from, to string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, m := range w.msgs {
		if m.Type == typ && m.From == from && m.To == to {
			n++
		}
	}
	return n
}

func (w *wire) last(typ models.MessageType, to string) (models.SignalingMessage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.msgs) - 1; i >= 0; i-- {
		if w.msgs[i].Type == typ && w.msgs[i].To == to {
			return w.msgs[i], true
		}
	}
	return models.SignalingMessage{}, false
}

type harness struct {
	t      *testing.T
	clock  *clock.FakeClock
	bus    *signaling.MemoryBus
	store  *store.MemoryStore
	wire   *wire
	logger *zap.Logger
}

type node struct {
	id        string
	transport signaling.Transport
	session   *meeting.Session
	engine    *peertest.Engine
	peers     *peer.Manager
	devices   *peertest.Devices
	events    *eventLog
	diag      *diagnostics.Collector
}

func newHarness(t *testing.T) *harness {
	logger := zaptest.NewLogger(t)
	h := &harness{
		t:      t,
		clock:  clock.NewFake(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		bus:    signaling.NewMemoryBus("test", logger),
		store:  store.NewMemoryStore(),
		wire:   &wire{},
		logger: logger,
	}
	t.Cleanup(func() {
		h.bus.Wait()
		h.bus.Close()
	})
	_, err := h.bus.Subscribe(context.Background(), h.wire.record)
	require.NoError(t, err)
	return h
}

func (h *harness) node(id, name string) *node {
	return h.nodeAs(id, auth.StaticProvider{Identity: auth.Identity{ID: id, Name: name}})
}

func (h *harness) nodeAs(id string, provider auth.Provider) *node {
	return h.nodeOn(id, provider, h.broadcast)
}

func (h *harness) broadcast(n *node, logger *zap.Logger) signaling.Transport {
	tr, err := signaling.NewBroadcast(context.Background(), h.bus, signaling.BroadcastOptions{Clock: h.clock, Logger: logger, Recorder: n.diag})
	require.NoError(h.t, err)
	return tr
}

// nodeOn builds a participant whose signaling transport comes from dial.
func (h *harness) nodeOn(id string, provider auth.Provider, dial func(*node, *zap.Logger) signaling.Transport) *node {
	t := h.t
	logger := h.logger.With(zap.String("node", id))
	n := &node{
		id:      id,
		engine:  peertest.NewEngine(),
		devices: &peertest.Devices{},
		events:  &eventLog{},
		diag:    diagnostics.NewCollector(diagnostics.DefaultCapacity, h.clock, logger),
	}

	tr := dial(n, logger)
	n.transport = tr
	var err error
	t.Cleanup(func() {
		h.bus.Wait()
		tr.Close()
	})

	bus := events.NewBus(logger)
	bus.Subscribe(n.events.listen)

	cfg := peer.DefaultConfig()
	cfg.Clock = h.clock
	cfg.Recorder = n.diag
	n.peers = peer.NewManager(n.engine, tr, bus, cfg, logger)

	n.session, err = meeting.New(meeting.Deps{
		Identity:  provider,
		Transport: tr,
		Peers:     n.peers,
		Devices:   n.devices,
		Events:    bus,
		Recorder:  n.diag,
		Store:     h.store,
		Clock:     h.clock,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(n.session.Close)
	return n
}

func (h *harness) idle() {
	h.t.Helper()
	done := make(chan struct{})
	go func() {
		h.bus.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.t.Fatal("bus did not drain")
	}
}

// settle lets every pending join finish its rendezvous.
func (h *harness) settle() {
	h.t.Helper()
	h.idle()
	h.clock.Advance(signaling.DefaultSettleDelay)
	h.idle()
}

func (h *harness) create(n *node, title string) *models.Meeting {
	h.t.Helper()
	m, err := n.session.CreateMeeting(title)
	require.NoError(h.t, err)
	h.settle()
	return m
}

func (h *harness) join(n *node, meetingID string) {
	h.t.Helper()
	_, err := n.session.JoinMeeting(meetingID)
	require.NoError(h.t, err)
	h.settle()
}

func participant(t *testing.T, s *meeting.Session, id string) models.Participant {
	t.Helper()
	m := s.Meeting()
	require.NotNil(t, m)
	p, ok := m.Participants[id]
	require.True(t, ok, "participant %s not in roster", id)
	return *p
}

func TestJoinExistingMeeting(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")

	m := h.create(a, "Math")
	h.join(b, m.ID)

	reply, ok := h.wire.last(models.TypeMeetingParticipants, "b")
	require.True(t, ok)
	p, err := models.Decode(reply)
	require.NoError(t, err)
	roster := p.(models.MeetingParticipants).Participants
	require.Len(t, roster, 1)
	assert.Equal(t, "a", roster[0].ParticipantID)
	assert.Equal(t, "Alice", roster[0].ParticipantName)

	assert.True(t, participant(t, a.session, "a").IsHost)
	assert.False(t, participant(t, b.session, "b").IsHost)
	assert.Equal(t, "a", b.session.Meeting().HostID)
	assert.Equal(t, "Math", a.session.Meeting().Title)
	assert.Equal(t, "Alice", participant(t, b.session, "a").Name)
	assert.Equal(t, "Bob", participant(t, a.session, "b").Name)

	assert.Equal(t, 1, h.wire.count(models.TypeOffer, "b", "a"))
	assert.Equal(t, 1, h.wire.count(models.TypeAnswer, "a", "b"))
	assert.Zero(t, h.wire.count(models.TypeOffer, "a", "b"))
	assert.Equal(t, "stable", b.engine.Last().SignalingState())
	assert.Len(t, a.engine.Conns(), 1)
	assert.Len(t, b.engine.Conns(), 1)

	assert.Len(t, a.events.of(models.EventParticipantJoined), 2)
	assert.Empty(t, a.events.of(models.EventHostChanged))
}

func TestFirstArrivalBecomesHost(t *testing.T) {
	h := newHarness(t)
	b := h.node("b", "Bob")

	h.join(b, "standup")

	m := b.session.Meeting()
	require.NotNil(t, m)
	assert.Equal(t, "b", m.HostID)
	assert.Equal(t, "Bob's Meeting", m.Title)
	assert.True(t, participant(t, b.session, "b").IsHost)
	hosts := b.events.of(models.EventHostChanged)
	require.Len(t, hosts, 1)
	assert.Equal(t, "b", hosts[0].ParticipantID)

	rec, err := h.store.GetMeeting(context.Background(), "standup")
	require.NoError(t, err)
	assert.Equal(t, "b", rec.HostID)
}

func TestThirdParticipantConnectsToEveryone(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	c := h.node("c", "Carol")

	m := h.create(a, "Math")
	h.join(b, m.ID)
	h.join(c, m.ID)

	assert.Equal(t, []string{"a", "b", "c"}, c.session.Meeting().ParticipantIDs())
	assert.Equal(t, []string{"a", "b", "c"}, b.session.Meeting().ParticipantIDs())
	assert.Equal(t, "a", c.session.Meeting().HostID)
	assert.Equal(t, 1, h.wire.count(models.TypeOffer, "c", "a"))
	assert.Equal(t, 1, h.wire.count(models.TypeOffer, "c", "b"))
	assert.Equal(t, []string{"a", "b"}, c.peers.Participants())
	assert.Equal(t, []string{"a", "c"}, b.peers.Participants())
}

func TestHostLeavesLowestIDTakesOver(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	c := h.node("c", "Carol")

	m := h.create(a, "Math")
	h.join(b, m.ID)
	h.join(c, m.ID)

	a.session.LeaveMeeting()
	h.idle()

	for _, n := range []*node{b, c} {
		got := n.session.Meeting()
		require.NotNil(t, got)
		assert.Equal(t, "b", got.HostID, n.id)
		assert.Equal(t, []string{"b", "c"}, got.ParticipantIDs(), n.id)
		assert.True(t, got.IsActive)
		assert.Len(t, n.events.of(models.EventParticipantLeft), 1, n.id)
		assert.NotContains(t, n.peers.Participants(), "a")
	}
	assert.True(t, participant(t, b.session, "b").IsHost)
	assert.False(t, participant(t, c.session, "c").IsHost)
	assert.Nil(t, a.session.Meeting())
	assert.Zero(t, a.peers.Count())

	rec, err := h.store.GetMeeting(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.HostID)
}

func TestNonHostLeaveKeepsHost(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")

	m := h.create(a, "Math")
	h.join(b, m.ID)
	b.session.LeaveMeeting()
	h.idle()

	got := a.session.Meeting()
	require.NotNil(t, got)
	assert.Equal(t, "a", got.HostID)
	assert.Equal(t, []string{"a"}, got.ParticipantIDs())
	assert.Empty(t, a.events.of(models.EventHostChanged))
	assert.True(t, a.engine.Last().Closed())
}

func TestLastParticipantEndsMeeting(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")

	m := h.create(a, "Math")
	a.session.LeaveMeeting()
	h.idle()

	assert.Nil(t, a.session.Meeting())
	assert.Len(t, a.events.of(models.EventMeetingEnded), 1)
	rec, err := h.store.GetMeeting(context.Background(), m.ID)
	require.NoError(t, err)
	assert.NotNil(t, rec.EndedAt)

	attendance, err := h.store.Attendance(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, attendance, 1)
	assert.NotNil(t, attendance[0].LeftAt)
}

func TestLeaveWithoutMeetingIsNoop(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")

	a.session.LeaveMeeting()
	h.create(a, "Math")
	a.session.LeaveMeeting()
	a.session.LeaveMeeting()
	h.idle()

	assert.Len(t, a.events.of(models.EventParticipantLeft), 1)
	assert.Equal(t, 1, h.wire.count(models.TypeParticipantLeft, "a", ""))
}

func TestCreateWhileInMeeting(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	h.create(a, "Math")

	_, err := a.session.CreateMeeting("Physics")
	assert.ErrorIs(t, err, meeting.ErrAlreadyInMeeting)
	_, err = a.session.JoinMeeting("other")
	assert.ErrorIs(t, err, meeting.ErrAlreadyInMeeting)
}

func TestUnauthenticatedCannotMeet(t *testing.T) {
	h := newHarness(t)
	n := h.nodeAs("anon", auth.StaticProvider{})

	_, err := n.session.CreateMeeting("Math")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = n.session.JoinMeeting("m1")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	assert.Nil(t, n.session.Meeting())
	entries := n.diag.Recent(0)
	require.Len(t, entries, 2)
	assert.Equal(t, diagnostics.KindAuth, entries[0].Kind)
	assert.Equal(t, diagnostics.SeverityCritical, entries[0].Severity)
}

func TestMalformedMessageIsDropped(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	m := h.create(a, "Math")

	bad := models.SignalingMessage{Type: models.TypeOffer, MeetingID: m.ID, From: "x", To: "a", Data: json.RawMessage(`{"type":"offer"}`)}
	body, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), body))
	h.idle()

	assert.Equal(t, []string{"a"}, a.session.Meeting().ParticipantIDs())
	assert.Zero(t, a.peers.Count())
	entries := a.diag.Recent(1)
	require.Len(t, entries, 1)
	assert.Equal(t, diagnostics.KindSignaling, entries[0].Kind)
	assert.Equal(t, "x", entries[0].Fields["from"])
}

func TestMessagesForOtherMeetingsAreIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")

	h.create(a, "Math")
	h.join(b, "elsewhere")

	assert.Equal(t, []string{"a"}, a.session.Meeting().ParticipantIDs())
	assert.Equal(t, []string{"b"}, b.session.Meeting().ParticipantIDs())
	assert.Zero(t, a.peers.Count())
}

func TestFailedConnectionIsRenegotiated(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	conn := b.engine.Last()
	conn.SetState(peer.StateConnected)
	conn.FailOffer(errors.New("ice agent gone"))
	conn.SetState(peer.StateFailed)
	h.idle()

	assert.True(t, conn.Closed())
	assert.True(t, b.peers.PendingRecovery("a"))

	h.clock.Advance(peer.DefaultReconnectDelay)
	h.idle()

	conns := b.engine.Conns()
	require.Len(t, conns, 2)
	assert.Equal(t, "stable", conns[1].SignalingState())
	assert.Equal(t, 2, h.wire.count(models.TypeOffer, "b", "a"))
	assert.Equal(t, 2, h.wire.count(models.TypeAnswer, "a", "b"))
	assert.Equal(t, []string{"a", "b"}, b.session.Meeting().ParticipantIDs())
}

func TestDepartureCancelsRecovery(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	conn := a.engine.Last()
	conn.FailOffer(errors.New("ice agent gone"))
	conn.SetState(peer.StateFailed)
	require.True(t, a.peers.PendingRecovery("b"))

	b.session.LeaveMeeting()
	h.idle()
	h.clock.Advance(peer.DefaultReconnectDelay)
	h.idle()

	assert.False(t, a.peers.PendingRecovery("b"))
	assert.Len(t, a.engine.Conns(), 1)
	assert.Zero(t, h.wire.count(models.TypeOffer, "a", "b"))
}

func TestRemoteStreamIsAttached(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	a.engine.Last().Receive(media.RemoteTrack{ID: "cam-b", Kind: media.KindVideo}, "stream-b")
	p := participant(t, a.session, "b")
	require.NotNil(t, p.Stream)
	assert.Equal(t, "stream-b", p.Stream.ID())
	assert.Len(t, a.events.of(models.EventStreamAdded), 1)

	b.session.LeaveMeeting()
	h.idle()
	assert.Len(t, a.events.of(models.EventStreamRemoved), 1)
}
