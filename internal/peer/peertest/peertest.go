// Package peertest provides an in-memory peer.Engine for tests. Conns follow
// the offer/answer state machine closely enough to exercise negotiation and
// recovery, and state changes are driven by the test.
package peertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/models"
	"github.com/aura-webinar/meshmeet/internal/peer"
)

const (
	signalingStable          = "stable"
	signalingHaveRemoteOffer = "have-remote-offer"
)

// Engine records every Conn it creates.
type Engine struct {
	mu    sync.Mutex
	conns []*Conn
	err   error
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewPeerConnection(opts peer.Options) (peer.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	c := &Conn{
		seq:       len(e.conns) + 1,
		opts:      opts,
		state:     peer.StateNew,
		signaling: signalingStable,
		tracks:    make(map[media.Kind]media.LocalTrack),
	}
	e.conns = append(e.conns, c)
	return c, nil
}

func (e *Engine) Capabilities() map[string]bool {
	return map[string]bool{"ice_restart": true, "replace_track": true, "rollback": true}
}

// FailCreate makes NewPeerConnection return err until cleared with nil.
func (e *Engine) FailCreate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Conns returns every Conn created so far, oldest first.
func (e *Engine) Conns() []*Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conn, len(e.conns))
	copy(out, e.conns)
	return out
}

// Last returns the newest Conn, or nil.
func (e *Engine) Last() *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.conns) == 0 {
		return nil
	}
	return e.conns[len(e.conns)-1]
}

// Conn is a fake peer.PeerConnection.
type Conn struct {
	mu         sync.Mutex
	seq        int
	opts       peer.Options
	state      peer.ConnectionState
	signaling  string
	hasRemote  bool
	candidates []models.ICECandidateInit
	tracks     map[media.Kind]media.LocalTrack
	offers     int
	restarts   int
	closed     bool

	offerErr    error
	rollbackErr error
	remoteErr   error

	onCandidate func(*models.ICECandidateInit)
	onTrack     func(media.RemoteTrack, string)
	onState     func(peer.ConnectionState)
	onICE       func(peer.ICEConnectionState)
}

func (c *Conn) CreateOffer(iceRestart bool) (models.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.SessionDescription{}, errors.New("connection closed")
	}
	if c.offerErr != nil {
		return models.SessionDescription{}, c.offerErr
	}
	c.offers++
	if iceRestart {
		c.restarts++
	}
	return models.SessionDescription{Type: "offer", SDP: fmt.Sprintf("v=0 offer %d.%d", c.seq, c.offers)}, nil
}

func (c *Conn) CreateAnswer() (models.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signaling != signalingHaveRemoteOffer {
		return models.SessionDescription{}, fmt.Errorf("create answer in state %s", c.signaling)
	}
	return models.SessionDescription{Type: "answer", SDP: fmt.Sprintf("v=0 answer %d", c.seq)}, nil
}

func (c *Conn) SetLocalDescription(d models.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch d.Type {
	case "offer":
		c.signaling = peer.SignalingStateHaveLocalOffer
	case "answer":
		c.signaling = signalingStable
	default:
		return fmt.Errorf("unsupported local description %q", d.Type)
	}
	return nil
}

func (c *Conn) SetRemoteDescription(d models.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteErr != nil {
		return c.remoteErr
	}
	switch d.Type {
	case "offer":
		if c.signaling == peer.SignalingStateHaveLocalOffer {
			return errors.New("remote offer while local offer outstanding")
		}
		c.signaling = signalingHaveRemoteOffer
	case "answer":
		if c.signaling != peer.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in state %s", c.signaling)
		}
		c.signaling = signalingStable
	default:
		return fmt.Errorf("unsupported remote description %q", d.Type)
	}
	c.hasRemote = true
	return nil
}

func (c *Conn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	c.signaling = signalingStable
	return nil
}

func (c *Conn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasRemote
}

func (c *Conn) AddICECandidate(cand models.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRemote {
		return errors.New("candidate before remote description")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) AddTrack(track media.LocalTrack, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks[track.Kind()] = track
	return nil
}

func (c *Conn) ReplaceTrack(kind media.Kind, track media.LocalTrack) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tracks[kind]; !ok {
		return false, nil
	}
	c.tracks[kind] = track
	return true, nil
}

func (c *Conn) OnICECandidate(f func(*models.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = f
}

func (c *Conn) OnTrack(f func(media.RemoteTrack, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = f
}

func (c *Conn) OnConnectionStateChange(f func(peer.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

func (c *Conn) OnICEConnectionStateChange(f func(peer.ICEConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = f
}

func (c *Conn) ConnectionState() peer.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) SignalingState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaling
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.state = peer.StateClosed
	return nil
}

// SetState moves the conn to s and runs the state callback on the calling
// goroutine.
func (c *Conn) SetState(s peer.ConnectionState) {
	c.mu.Lock()
	c.state = s
	f := c.onState
	c.mu.Unlock()
	if f != nil {
		f(s)
	}
}

// SetICEState runs the ICE state callback.
func (c *Conn) SetICEState(s peer.ICEConnectionState) {
	c.mu.Lock()
	f := c.onICE
	c.mu.Unlock()
	if f != nil {
		f(s)
	}
}

// Gather reports a local candidate, or the end of gathering when cand is nil.
func (c *Conn) Gather(cand *models.ICECandidateInit) {
	c.mu.Lock()
	f := c.onCandidate
	c.mu.Unlock()
	if f != nil {
		f(cand)
	}
}

// Receive simulates a remote track arriving.
func (c *Conn) Receive(track media.RemoteTrack, streamID string) {
	c.mu.Lock()
	f := c.onTrack
	c.mu.Unlock()
	if f != nil {
		f(track, streamID)
	}
}

// FailOffer makes CreateOffer return err until cleared with nil.
func (c *Conn) FailOffer(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerErr = err
}

// FailRollback makes Rollback return err until cleared with nil.
func (c *Conn) FailRollback(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbackErr = err
}

// FailRemote makes SetRemoteDescription return err until cleared with nil.
func (c *Conn) FailRemote(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteErr = err
}

func (c *Conn) Options() peer.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Conn) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// RemoteCandidates returns the candidates applied so far.
func (c *Conn) RemoteCandidates() []models.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ICECandidateInit, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// Track returns the outgoing track of kind, or nil.
func (c *Conn) Track(kind media.Kind) media.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[kind]
}

// Track is a fake media.LocalTrack.
type Track struct {
	mu      sync.Mutex
	id      string
	kind    media.Kind
	enabled bool
	ended   bool
	onEnded []func()
}

// NewTrack returns an enabled track.
func NewTrack(id string, kind media.Kind) *Track {
	return &Track{id: id, kind: kind, enabled: true}
}

func (t *Track) ID() string       { return t.id }
func (t *Track) Kind() media.Kind { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fs := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *Track) OnEnded(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, f)
}

// Devices is a fake media.Devices handing out Tracks.
type Devices struct {
	mu         sync.Mutex
	seq        int
	userErr    error
	displayErr error
	userOpens  int
}

func (d *Devices) UserMedia(_ context.Context, c media.Constraints) (*media.LocalStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userErr != nil {
		return nil, d.userErr
	}
	d.seq++
	d.userOpens++
	var tracks []media.LocalTrack
	if c.Audio {
		tracks = append(tracks, NewTrack(fmt.Sprintf("mic-%d", d.seq), media.KindAudio))
	}
	if c.Video {
		tracks = append(tracks, NewTrack(fmt.Sprintf("cam-%d", d.seq), media.KindVideo))
	}
	return media.NewLocalStream(fmt.Sprintf("camera-%d", d.seq), tracks...), nil
}

func (d *Devices) DisplayMedia(context.Context) (*media.LocalStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	d.seq++
	s := media.NewLocalStream(fmt.Sprintf("screen-%d", d.seq), NewTrack(fmt.Sprintf("screen-%d", d.seq), media.KindVideo))
	return s, nil
}

// FailUserMedia makes UserMedia return err until cleared with nil.
func (d *Devices) FailUserMedia(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userErr = err
}

// FailDisplayMedia makes DisplayMedia return err until cleared with nil.
func (d *Devices) FailDisplayMedia(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayErr = err
}

// UserOpens counts successful UserMedia calls.
func (d *Devices) UserOpens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userOpens
}
