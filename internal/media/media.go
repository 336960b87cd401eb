// Package media defines the handles the orchestrator passes around for local
// capture and remote streams. Capture and encoding themselves live behind the
// Devices port.
package media

import (
	"sync"
)

// Kind is the media kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// LocalTrack is one locally captured track. Implementations must make every
// method safe for concurrent use.
type LocalTrack interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop ends the track. Ended callbacks run once, on the first Stop.
	Stop()
	Ended() bool
	// OnEnded registers f to run when the track ends, either through Stop or
	// because the platform ended it (the user pressed "stop sharing").
	OnEnded(f func())
}

// Stream is anything a Participant can display.
type Stream interface {
	ID() string
	TrackIDs() []string
}

// LocalStream groups the tracks of one capture (camera+mic or screen).
type LocalStream struct {
	id     string
	tracks []LocalTrack
}

// NewLocalStream wraps already opened tracks.
func NewLocalStream(id string, tracks ...LocalTrack) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []LocalTrack {
	out := make([]LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *LocalStream) TrackIDs() []string {
	ids := make([]string, 0, len(s.tracks))
	for _, t := range s.tracks {
		ids = append(ids, t.ID())
	}
	return ids
}

// AudioTrack returns the first audio track, or nil.
func (s *LocalStream) AudioTrack() LocalTrack { return s.first(KindAudio) }

// VideoTrack returns the first video track, or nil.
func (s *LocalStream) VideoTrack() LocalTrack { return s.first(KindVideo) }

func (s *LocalStream) first(kind Kind) LocalTrack {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Stop stops every track in the stream.
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// RemoteTrack describes a track received from a peer.
type RemoteTrack struct {
	ID   string
	Kind Kind
}

// RemoteStream collects the tracks received from one peer connection.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks []RemoteTrack
}

// NewRemoteStream creates an empty remote stream handle.
func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

// AddTrack records a received track. Duplicate ids are ignored.
func (s *RemoteStream) AddTrack(t RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing.ID == t.ID {
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) TrackIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tracks))
	for _, t := range s.tracks {
		ids = append(ids, t.ID)
	}
	return ids
}
