package peer

import (
	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/models"
)

// ConnectionState mirrors the primitive's aggregate connection state.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// ICEConnectionState mirrors the primitive's ICE agent state.
type ICEConnectionState string

const (
	ICEStateNew          ICEConnectionState = "new"
	ICEStateChecking     ICEConnectionState = "checking"
	ICEStateConnected    ICEConnectionState = "connected"
	ICEStateCompleted    ICEConnectionState = "completed"
	ICEStateDisconnected ICEConnectionState = "disconnected"
	ICEStateFailed       ICEConnectionState = "failed"
	ICEStateClosed       ICEConnectionState = "closed"
)

// SignalingStateHaveLocalOffer is reported while our offer awaits an answer.
const SignalingStateHaveLocalOffer = "have-local-offer"

// Options are per-connection settings.
type Options struct {
	// RelayOnly restricts ICE to TURN relay candidates.
	RelayOnly bool
}

// Engine creates handshake primitives.
type Engine interface {
	NewPeerConnection(opts Options) (PeerConnection, error)
	// Capabilities reports support flags for diagnostics, such as
	// "ice_restart" or "replace_track".
	Capabilities() map[string]bool
}

// PeerConnection is one negotiation and media primitive. Callbacks may be
// invoked from any goroutine.
type PeerConnection interface {
	CreateOffer(iceRestart bool) (models.SessionDescription, error)
	CreateAnswer() (models.SessionDescription, error)
	SetLocalDescription(models.SessionDescription) error
	SetRemoteDescription(models.SessionDescription) error
	// Rollback discards a local offer that has not been answered.
	Rollback() error
	HasRemoteDescription() bool
	AddICECandidate(models.ICECandidateInit) error

	AddTrack(track media.LocalTrack, streamID string) error
	// ReplaceTrack swaps the outgoing track of kind without renegotiation.
	// It reports false when there is no sender of that kind yet.
	ReplaceTrack(kind media.Kind, track media.LocalTrack) (bool, error)

	// OnICECandidate is called with nil once gathering completes.
	OnICECandidate(func(*models.ICECandidateInit))
	OnTrack(func(track media.RemoteTrack, streamID string))
	OnConnectionStateChange(func(ConnectionState))
	OnICEConnectionStateChange(func(ICEConnectionState))

	ConnectionState() ConnectionState
	SignalingState() string
	Close() error
}
