package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/media"
)

// Devices hands out sample-fed tracks. Only one camera capture may be open
// at a time; a second request fails with media.ErrDeviceInUse until the
// first video track stops.
type Devices struct {
	log *zap.Logger

	mu         sync.Mutex
	cameraOpen bool
}

func NewDevices(logger *zap.Logger) *Devices {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Devices{log: logger}
}

func (d *Devices) UserMedia(ctx context.Context, c media.Constraints) (*media.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, &media.Error{Device: "camera", Cause: media.ErrDeviceNotFound}
	}

	d.mu.Lock()
	if c.Video && d.cameraOpen {
		d.mu.Unlock()
		return nil, &media.Error{Device: "camera", Cause: media.ErrDeviceInUse}
	}
	if c.Video {
		d.cameraOpen = true
	}
	d.mu.Unlock()

	streamID := "camera-" + uuid.NewString()
	var tracks []media.LocalTrack
	if c.Audio {
		t, err := newTrack(media.KindAudio, "mic-"+uuid.NewString(), streamID)
		if err != nil {
			d.releaseCamera(c.Video)
			return nil, &media.Error{Device: "microphone", Cause: err}
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := newTrack(media.KindVideo, "cam-"+uuid.NewString(), streamID)
		if err != nil {
			d.releaseCamera(true)
			return nil, &media.Error{Device: "camera", Cause: err}
		}
		t.OnEnded(func() { d.releaseCamera(true) })
		tracks = append(tracks, t)
	}
	d.log.Debug("user media opened", zap.String("stream_id", streamID), zap.Int("tracks", len(tracks)))
	return media.NewLocalStream(streamID, tracks...), nil
}

func (d *Devices) DisplayMedia(ctx context.Context) (*media.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := "screen-" + uuid.NewString()
	t, err := newTrack(media.KindVideo, streamID, streamID)
	if err != nil {
		return nil, &media.Error{Device: "screen", Cause: err}
	}
	return media.NewLocalStream(streamID, t), nil
}

func (d *Devices) releaseCamera(video bool) {
	if !video {
		return
	}
	d.mu.Lock()
	d.cameraOpen = false
	d.mu.Unlock()
}
