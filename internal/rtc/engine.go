// Package rtc implements the peer engine on pion/webrtc.
package rtc

import (
	"strings"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/peer"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

// EngineConfig lists the ICE servers offered to every connection.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
}

// Engine creates pion peer connections. Each connection gets its own
// MediaEngine.
type Engine struct {
	cfg    EngineConfig
	logger *zap.Logger
}

func NewEngine(cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{defaultSTUN}}}
	}
	return &Engine{cfg: cfg, logger: logger}
}

// ParseICEServers builds ICE servers from URLs. TURN URLs carry the given
// credentials; STUN URLs never do.
func ParseICEServers(urls []string, username, credential string) []webrtc.ICEServer {
	var stun, turn []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		switch {
		case u == "":
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = append(turn, u)
		default:
			stun = append(stun, u)
		}
	}
	var out []webrtc.ICEServer
	if len(stun) > 0 {
		out = append(out, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		out = append(out, webrtc.ICEServer{
			URLs:           turn,
			Username:       username,
			Credential:     credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return out
}

func (e *Engine) hasTURN() bool {
	for _, s := range e.cfg.ICEServers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

func (e *Engine) NewPeerConnection(opts peer.Options) (peer.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	cfg := webrtc.Configuration{ICEServers: e.cfg.ICEServers}
	if opts.RelayOnly {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
		if !e.hasTURN() {
			e.logger.Warn("relay-only ice requested without a turn server")
		}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return newConn(pc, e.logger), nil
}

func (e *Engine) Capabilities() map[string]bool {
	return map[string]bool{
		"ice_restart":   true,
		"replace_track": true,
		"rollback":      true,
		"turn":          e.hasTURN(),
	}
}
