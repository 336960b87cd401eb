package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/models"
	"github.com/aura-webinar/meshmeet/internal/peer"
)

// ErrForeignTrack is returned for local tracks not created by this package.
var ErrForeignTrack = errors.New("track has no pion sender")

// rtpBufferSize fits one packet at a typical MTU.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// pionTrack is implemented by local tracks that can be sent.
type pionTrack interface {
	TrackLocal() webrtc.TrackLocal
}

type conn struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger

	mu      sync.Mutex
	senders map[media.Kind]*webrtc.RTPSender
}

func newConn(pc *webrtc.PeerConnection, logger *zap.Logger) *conn {
	return &conn{pc: pc, log: logger, senders: make(map[media.Kind]*webrtc.RTPSender)}
}

func toPion(d models.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromPion(d webrtc.SessionDescription) models.SessionDescription {
	return models.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func (c *conn) CreateOffer(iceRestart bool) (models.SessionDescription, error) {
	if err := c.ensureReceivers(); err != nil {
		return models.SessionDescription{}, err
	}
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

// ensureReceivers adds a receive-only transceiver for each kind we do not
// send, so the offer still asks for the peer's audio and video.
func (c *conn) ensureReceivers() error {
	have := make(map[webrtc.RTPCodecType]bool)
	for _, t := range c.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) CreateAnswer() (models.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (c *conn) SetLocalDescription(d models.SessionDescription) error {
	return c.pc.SetLocalDescription(toPion(d))
}

func (c *conn) SetRemoteDescription(d models.SessionDescription) error {
	return c.pc.SetRemoteDescription(toPion(d))
}

func (c *conn) Rollback() error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	if pending := c.pc.PendingLocalDescription(); pending != nil {
		desc.SDP = pending.SDP
	}
	return c.pc.SetLocalDescription(desc)
}

func (c *conn) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *conn) AddICECandidate(cand models.ICECandidateInit) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *conn) AddTrack(track media.LocalTrack, _ string) error {
	pt, ok := track.(pionTrack)
	if !ok {
		return ErrForeignTrack
	}
	sender, err := c.pc.AddTrack(pt.TrackLocal())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.senders[track.Kind()] = sender
	c.mu.Unlock()
	go drainRTCP(sender)
	return nil
}

func (c *conn) ReplaceTrack(kind media.Kind, track media.LocalTrack) (bool, error) {
	c.mu.Lock()
	sender := c.senders[kind]
	c.mu.Unlock()
	if sender == nil {
		return false, nil
	}
	if track == nil {
		return true, sender.ReplaceTrack(nil)
	}
	pt, ok := track.(pionTrack)
	if !ok {
		return false, ErrForeignTrack
	}
	return true, sender.ReplaceTrack(pt.TrackLocal())
}

// drainRTCP reads RTCP so interceptors keep working; returns when the
// sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, rtpBufferSize)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *conn) OnICECandidate(f func(*models.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			f(nil)
			return
		}
		init := cand.ToJSON()
		f(&models.ICECandidateInit{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (c *conn) OnTrack(f func(media.RemoteTrack, string)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(media.RemoteTrack{ID: track.ID(), Kind: media.Kind(track.Kind().String())}, track.StreamID())
		go c.drain(track)
	})
}

// drain consumes remote RTP until the track ends. Rendering happens
// elsewhere; the packets only need to leave the buffer.
func (c *conn) drain(track *webrtc.TrackRemote) {
	for {
		ptr := rtpBufferPool.Get().(*[]byte)
		_, _, err := track.Read(*ptr)
		rtpBufferPool.Put(ptr)
		if err != nil {
			c.log.Debug("remote track ended", zap.String("track_id", track.ID()), zap.Error(err))
			return
		}
	}
}

func (c *conn) OnConnectionStateChange(f func(peer.ConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f(peer.ConnectionState(s.String()))
	})
}

func (c *conn) OnICEConnectionStateChange(f func(peer.ICEConnectionState)) {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		f(peer.ICEConnectionState(s.String()))
	})
}

func (c *conn) ConnectionState() peer.ConnectionState {
	return peer.ConnectionState(c.pc.ConnectionState().String())
}

func (c *conn) SignalingState() string {
	return c.pc.SignalingState().String()
}

func (c *conn) Close() error {
	return c.pc.Close()
}
