package meeting

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/models"
)

var errNoDevices = errors.New("no media devices configured")

func (s *Session) mediaFailure(device string, err error) error {
	var merr *media.Error
	if !errors.As(err, &merr) {
		merr = &media.Error{Device: device, Cause: err}
	}
	s.rec.Record(diagnostics.KindMedia, diagnostics.SeverityMedium, merr.Reason(), map[string]string{"device": merr.Device, "error": err.Error()})
	s.logger.Warn("media unavailable", zap.String("device", merr.Device), zap.Error(err))
	return merr
}

// localLocked returns the local participant, or nil outside a meeting.
func (s *Session) localLocked() *models.Participant {
	if s.meeting == nil {
		return nil
	}
	return s.meeting.Participants[s.self.ID]
}

// StartCamera opens camera and microphone and sends them to every peer.
// While screen sharing, the screen keeps the outgoing video.
func (s *Session) StartCamera(ctx context.Context) (*media.LocalStream, error) {
	s.mu.Lock()
	if s.camera != nil {
		defer s.mu.Unlock()
		return s.camera, nil
	}
	s.mu.Unlock()

	if s.devices == nil {
		return nil, s.mediaFailure("camera", errNoDevices)
	}
	stream, err := s.devices.UserMedia(ctx, media.DefaultConstraints())
	if err != nil {
		return nil, s.mediaFailure("camera", err)
	}

	s.mu.Lock()
	if s.camera != nil {
		existing := s.camera
		s.mu.Unlock()
		stream.Stop()
		return existing, nil
	}
	s.camera = stream
	if p := s.localLocked(); p != nil {
		p.IsCameraOn = true
		p.IsMuted = false
		p.Stream = stream
	}
	screen := s.screen
	s.mu.Unlock()

	s.peers.SetLocalStream(stream)
	if screen != nil {
		s.peers.ReplaceTrack(media.KindVideo, screen.VideoTrack())
	}
	return stream, nil
}

// StopCamera stops camera and microphone and removes them from every peer.
func (s *Session) StopCamera() {
	s.mu.Lock()
	stream := s.camera
	s.camera = nil
	if p := s.localLocked(); p != nil {
		p.IsCameraOn = false
		p.Stream = nil
	}
	screen := s.screen
	s.mu.Unlock()
	if stream == nil {
		return
	}

	stream.Stop()
	s.peers.SetLocalStream(nil)
	if screen != nil {
		s.peers.ReplaceTrack(media.KindVideo, screen.VideoTrack())
	}
}

// ToggleCamera starts the camera when it is off and stops it otherwise. It
// reports whether the camera is now on.
func (s *Session) ToggleCamera(ctx context.Context) (bool, error) {
	if s.LocalStream() == nil {
		if _, err := s.StartCamera(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	s.StopCamera()
	return false, nil
}

// ToggleMute flips the microphone and reports whether it is now muted.
// Without a microphone it reports false.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.camera == nil {
		return false
	}
	audio := s.camera.AudioTrack()
	if audio == nil {
		return false
	}
	audio.SetEnabled(!audio.Enabled())
	muted := !audio.Enabled()
	if p := s.localLocked(); p != nil {
		p.IsMuted = muted
	}
	return muted
}

// StartScreenShare replaces the outgoing video on every connection with a
// screen capture. When the platform ends the capture, the camera video is
// restored.
func (s *Session) StartScreenShare(ctx context.Context) (*media.LocalStream, error) {
	s.mu.Lock()
	if s.meeting == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveMeeting
	}
	if s.screen != nil {
		defer s.mu.Unlock()
		return s.screen, nil
	}
	s.mu.Unlock()

	if s.devices == nil {
		return nil, s.mediaFailure("screen", errNoDevices)
	}
	screen, err := s.devices.DisplayMedia(ctx)
	if err != nil {
		return nil, s.mediaFailure("screen", err)
	}
	video := screen.VideoTrack()
	if video == nil {
		screen.Stop()
		return nil, s.mediaFailure("screen", media.ErrDeviceNotFound)
	}

	s.mu.Lock()
	if s.meeting == nil {
		s.mu.Unlock()
		screen.Stop()
		return nil, ErrNoActiveMeeting
	}
	if existing := s.screen; existing != nil {
		s.mu.Unlock()
		screen.Stop()
		return existing, nil
	}
	s.screen = screen
	if p := s.localLocked(); p != nil {
		p.IsScreenSharing = true
	}
	s.mu.Unlock()

	s.peers.ReplaceTrack(media.KindVideo, video)
	video.OnEnded(func() { s.stopScreen(screen) })
	s.logger.Info("screen share started", zap.String("stream_id", screen.ID()))
	return screen, nil
}

// StopScreenShare ends screen sharing and restores the camera video.
func (s *Session) StopScreenShare() {
	s.stopScreen(nil)
}

// stopScreen stops target, or whatever is shared when target is nil.
func (s *Session) stopScreen(target *media.LocalStream) {
	s.mu.Lock()
	screen := s.screen
	if screen == nil || (target != nil && screen != target) {
		s.mu.Unlock()
		return
	}
	s.screen = nil
	if p := s.localLocked(); p != nil {
		p.IsScreenSharing = false
	}
	camera := s.camera
	s.mu.Unlock()

	screen.Stop()
	var video media.LocalTrack
	if camera != nil {
		video = camera.VideoTrack()
	}
	s.peers.ReplaceTrack(media.KindVideo, video)
	s.logger.Info("screen share stopped", zap.String("stream_id", screen.ID()))
}

// SendChat broadcasts a chat message to the meeting.
func (s *Session) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	m := s.meeting
	self := s.self
	s.mu.Unlock()
	if m == nil {
		return ErrNoActiveMeeting
	}
	msg := models.ChatMessage{Message: text, SenderName: self.Name}
	s.send(m.ID, self.ID, "", msg)
	s.emit(models.EventChatMessage, m.ID, self.ID, msg)
	return nil
}
