package media

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDeviceInUse      = errors.New("device already in use")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
)

// Constraints selects what UserMedia should capture.
type Constraints struct {
	Audio  bool
	Video  bool
	Width  int
	Height int
}

// DefaultConstraints mirrors what a meeting asks for: 720p video and audio.
func DefaultConstraints() Constraints {
	return Constraints{Audio: true, Video: true, Width: 1280, Height: 720}
}

// Devices acquires local capture streams. Errors should be, or wrap, one of
// the sentinel errors above so callers can tell the user what to fix.
type Devices interface {
	UserMedia(ctx context.Context, c Constraints) (*LocalStream, error)
	DisplayMedia(ctx context.Context) (*LocalStream, error)
}

// Error is a media acquisition failure surfaced to the caller. It is never
// retried by the orchestrator.
type Error struct {
	Device string // "camera", "microphone", "screen"
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Device, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Reason returns a short human readable explanation for the UI.
func (e *Error) Reason() string {
	switch {
	case errors.Is(e.Cause, ErrDeviceInUse):
		return e.Device + " is already in use by another application"
	case errors.Is(e.Cause, ErrPermissionDenied):
		return "access to the " + e.Device + " was denied"
	case errors.Is(e.Cause, ErrDeviceNotFound):
		return "no " + e.Device + " was found"
	default:
		return e.Device + " could not be started"
	}
}
