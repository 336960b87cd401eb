package media

import (
	"errors"
	"fmt"
	"testing"
)

type stubTrack struct {
	id      string
	kind    Kind
	enabled bool
	stopped bool
}

func (s *stubTrack) ID() string        { return s.id }
func (s *stubTrack) Kind() Kind        { return s.kind }
func (s *stubTrack) Enabled() bool     { return s.enabled }
func (s *stubTrack) SetEnabled(e bool) { s.enabled = e }
func (s *stubTrack) Stop()             { s.stopped = true }
func (s *stubTrack) Ended() bool       { return s.stopped }
func (s *stubTrack) OnEnded(func())    {}

func TestLocalStreamTrackLookup(t *testing.T) {
	audio := &stubTrack{id: "a", kind: KindAudio}
	video := &stubTrack{id: "v", kind: KindVideo}
	s := NewLocalStream("s1", audio, video)

	if s.AudioTrack() != audio {
		t.Errorf("AudioTrack = %v, want audio", s.AudioTrack())
	}
	if s.VideoTrack() != video {
		t.Errorf("VideoTrack = %v, want video", s.VideoTrack())
	}
	if got := s.TrackIDs(); len(got) != 2 || got[0] != "a" || got[1] != "v" {
		t.Errorf("TrackIDs = %v", got)
	}

	s.Stop()
	if !audio.stopped || !video.stopped {
		t.Error("Stop did not stop every track")
	}

	empty := NewLocalStream("s2")
	if empty.AudioTrack() != nil || empty.VideoTrack() != nil {
		t.Error("empty stream returned a track")
	}
}

func TestRemoteStreamIgnoresDuplicateTracks(t *testing.T) {
	s := NewRemoteStream("r1")
	s.AddTrack(RemoteTrack{ID: "t1", Kind: KindAudio})
	s.AddTrack(RemoteTrack{ID: "t1", Kind: KindAudio})
	s.AddTrack(RemoteTrack{ID: "t2", Kind: KindVideo})
	if n := len(s.Tracks()); n != 2 {
		t.Fatalf("len(Tracks) = %d, want 2", n)
	}
}

func TestErrorReason(t *testing.T) {
	tests := []struct {
		cause error
		want  string
	}{
		{ErrDeviceInUse, "camera is already in use by another application"},
		{fmt.Errorf("getUserMedia: %w", ErrPermissionDenied), "access to the camera was denied"},
		{ErrDeviceNotFound, "no camera was found"},
		{errors.New("boom"), "camera could not be started"},
	}
	for _, tt := range tests {
		err := &Error{Device: "camera", Cause: tt.cause}
		if got := err.Reason(); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.cause, got, tt.want)
		}
	}
	err := error(&Error{Device: "screen", Cause: ErrPermissionDenied})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("errors.Is did not unwrap to ErrPermissionDenied")
	}
}
