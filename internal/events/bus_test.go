package events

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-webinar/meshmeet/internal/models"
)

func TestEmitOrderAndUnsubscribe(t *testing.T) {
	b := NewBus(nil)
	var got []string
	unsubA := b.Subscribe(func(e models.Event) { got = append(got, "a:"+e.ParticipantID) })
	b.Subscribe(func(e models.Event) { got = append(got, "b:"+e.ParticipantID) })

	b.Emit(models.Event{Type: models.EventParticipantJoined, ParticipantID: "p1"})
	unsubA()
	unsubA()
	b.Emit(models.Event{Type: models.EventParticipantLeft, ParticipantID: "p2"})

	want := []string{"a:p1", "b:p1", "b:p2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	b := NewBus(zap.New(core))

	delivered := false
	b.Subscribe(func(models.Event) { panic("ui crashed") })
	b.Subscribe(func(models.Event) { delivered = true })

	b.Emit(models.Event{Type: models.EventStreamAdded, MeetingID: "m1"})

	if !delivered {
		t.Error("listener after the panicking one was not called")
	}
	if logs.FilterMessage("event listener panicked").Len() != 1 {
		t.Errorf("expected one panic log, got %v", logs.All())
	}
}

func TestSubscribeFromListener(t *testing.T) {
	b := NewBus(nil)
	calls := 0
	b.Subscribe(func(models.Event) {
		calls++
		b.Subscribe(func(models.Event) { calls++ })
	})
	b.Emit(models.Event{})
	if calls != 1 {
		t.Errorf("calls after first emit = %d, want 1", calls)
	}
}
