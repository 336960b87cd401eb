package meeting_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/media"
	"github.com/aura-webinar/meshmeet/internal/meeting"
	"github.com/aura-webinar/meshmeet/internal/models"
)

func TestCameraTracksReachPeers(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	stream, err := a.session.StartCamera(context.Background())
	require.NoError(t, err)

	conn := a.engine.Last()
	require.NotNil(t, conn.Track(media.KindVideo))
	assert.Equal(t, stream.VideoTrack().ID(), conn.Track(media.KindVideo).ID())
	assert.Equal(t, stream.AudioTrack().ID(), conn.Track(media.KindAudio).ID())
	self := participant(t, a.session, "a")
	assert.True(t, self.IsCameraOn)
	assert.False(t, self.IsMuted)

	again, err := a.session.StartCamera(context.Background())
	require.NoError(t, err)
	assert.Same(t, stream, again)
	assert.Equal(t, 1, a.devices.UserOpens())
}

func TestToggleMute(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	h.create(a, "Math")

	assert.False(t, a.session.ToggleMute(), "no microphone")

	stream, err := a.session.StartCamera(context.Background())
	require.NoError(t, err)

	assert.True(t, a.session.ToggleMute())
	assert.False(t, stream.AudioTrack().Enabled())
	assert.True(t, participant(t, a.session, "a").IsMuted)

	assert.False(t, a.session.ToggleMute())
	assert.True(t, stream.AudioTrack().Enabled())
	assert.False(t, participant(t, a.session, "a").IsMuted)
}

func TestToggleCamera(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	on, err := a.session.ToggleCamera(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	stream := a.session.LocalStream()
	require.NotNil(t, stream)

	on, err = a.session.ToggleCamera(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
	assert.Nil(t, a.session.LocalStream())
	assert.True(t, stream.VideoTrack().Ended())
	assert.False(t, participant(t, a.session, "a").IsCameraOn)
	assert.Nil(t, a.engine.Last().Track(media.KindVideo))
}

func TestCameraInUse(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	h.create(a, "Math")
	a.devices.FailUserMedia(&media.Error{Device: "camera", Cause: media.ErrDeviceInUse})

	on, err := a.session.ToggleCamera(context.Background())
	assert.False(t, on)
	assert.ErrorIs(t, err, media.ErrDeviceInUse)

	entries := a.diag.Recent(1)
	require.Len(t, entries, 1)
	assert.Equal(t, diagnostics.KindMedia, entries[0].Kind)
	assert.Equal(t, "camera", entries[0].Fields["device"])
	assert.False(t, participant(t, a.session, "a").IsCameraOn)
}

func TestCameraStartedBeforeMeeting(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")

	_, err := a.session.StartCamera(context.Background())
	require.NoError(t, err)
	h.create(a, "Math")

	self := participant(t, a.session, "a")
	assert.True(t, self.IsCameraOn)
	require.NotNil(t, self.Stream)
}

func TestScreenShareSwapsVideo(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	camera, err := a.session.StartCamera(context.Background())
	require.NoError(t, err)
	screen, err := a.session.StartScreenShare(context.Background())
	require.NoError(t, err)

	conn := a.engine.Last()
	assert.Equal(t, screen.VideoTrack().ID(), conn.Track(media.KindVideo).ID())
	assert.Equal(t, camera.AudioTrack().ID(), conn.Track(media.KindAudio).ID())
	assert.True(t, participant(t, a.session, "a").IsScreenSharing)

	a.session.StopScreenShare()
	assert.Equal(t, camera.VideoTrack().ID(), conn.Track(media.KindVideo).ID())
	assert.True(t, screen.VideoTrack().Ended())
	assert.False(t, camera.VideoTrack().Ended())
	assert.Nil(t, a.session.ScreenStream())
	assert.False(t, participant(t, a.session, "a").IsScreenSharing)
}

func TestScreenShareEndedByPlatform(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	screen, err := a.session.StartScreenShare(context.Background())
	require.NoError(t, err)
	conn := a.engine.Last()
	assert.Equal(t, screen.VideoTrack().ID(), conn.Track(media.KindVideo).ID())

	// The user pressed the browser's "stop sharing".
	screen.VideoTrack().Stop()

	assert.Nil(t, a.session.ScreenStream())
	assert.Nil(t, conn.Track(media.KindVideo))
	assert.False(t, participant(t, a.session, "a").IsScreenSharing)
}

func TestScreenShareNeedsMeeting(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")

	_, err := a.session.StartScreenShare(context.Background())
	assert.ErrorIs(t, err, meeting.ErrNoActiveMeeting)
}

func TestScreenShareDenied(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	h.create(a, "Math")
	a.devices.FailDisplayMedia(&media.Error{Device: "screen", Cause: media.ErrPermissionDenied})

	_, err := a.session.StartScreenShare(context.Background())
	assert.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.Nil(t, a.session.ScreenStream())
	assert.Equal(t, diagnostics.KindMedia, a.diag.Recent(1)[0].Kind)
}

func TestLeaveStopsLocalMedia(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	h.create(a, "Math")

	camera, err := a.session.StartCamera(context.Background())
	require.NoError(t, err)
	screen, err := a.session.StartScreenShare(context.Background())
	require.NoError(t, err)

	a.session.LeaveMeeting()
	assert.True(t, camera.VideoTrack().Ended())
	assert.True(t, camera.AudioTrack().Ended())
	assert.True(t, screen.VideoTrack().Ended())
	assert.Nil(t, a.session.LocalStream())
	assert.Nil(t, a.session.ScreenStream())
}

func TestChat(t *testing.T) {
	h := newHarness(t)
	a := h.node("a", "Alice")
	b := h.node("b", "Bob")
	m := h.create(a, "Math")
	h.join(b, m.ID)

	require.NoError(t, a.session.SendChat("  hello  "))
	h.idle()

	got := b.events.of(models.EventChatMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ParticipantID)
	assert.Equal(t, models.ChatMessage{Message: "hello", SenderName: "Alice"}, got[0].Data)
	assert.Len(t, a.events.of(models.EventChatMessage), 1)

	assert.ErrorIs(t, a.session.SendChat("   "), meeting.ErrEmptyMessage)
	a.session.LeaveMeeting()
	assert.ErrorIs(t, a.session.SendChat("bye"), meeting.ErrNoActiveMeeting)
}
