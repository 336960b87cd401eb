package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	pmedia "github.com/pion/webrtc/v3/pkg/media"

	"github.com/aura-webinar/meshmeet/internal/media"
)

// Track is a local track fed with encoded samples by a capture source.
type Track struct {
	local *webrtc.TrackLocalStaticSample
	kind  media.Kind

	mu      sync.Mutex
	enabled bool
	ended   bool
	onEnded []func()
}

func newTrack(kind media.Kind, id, streamID string) (*Track, error) {
	mime := webrtc.MimeTypeVP8
	if kind == media.KindAudio {
		mime = webrtc.MimeTypeOpus
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Track{local: local, kind: kind, enabled: true}, nil
}

func (t *Track) ID() string                    { return t.local.ID() }
func (t *Track) Kind() media.Kind              { return t.kind }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

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
	if !t.ended {
		t.onEnded = append(t.onEnded, f)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	f()
}

// WriteSample sends one encoded frame. Disabled or ended tracks drop it.
func (t *Track) WriteSample(data []byte, d time.Duration) error {
	t.mu.Lock()
	live := t.enabled && !t.ended
	t.mu.Unlock()
	if !live {
		return nil
	}
	return t.local.WriteSample(pmedia.Sample{Data: data, Duration: d})
}
