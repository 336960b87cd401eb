package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeWireFormat(t *testing.T) {
	raw := `{
		"type": "ice-candidate",
		"meetingId": "m1",
		"fromParticipant": "alice",
		"toParticipant": "bob",
		"data": {"candidate": "candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host", "sdpMid": "0", "sdpMLineIndex": 0},
		"timestamp": "2024-05-01T10:00:00Z"
	}`
	var msg SignalingMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.For("m1", "bob") || msg.For("m1", "carol") || msg.For("m2", "bob") {
		t.Fatal("For routed the message incorrectly")
	}

	p, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c, ok := p.(ICECandidate)
	if !ok {
		t.Fatalf("Decode returned %T, want ICECandidate", p)
	}
	if c.SDPMid == nil || *c.SDPMid != "0" || c.SDPMLineIndex == nil || *c.SDPMLineIndex != 0 {
		t.Errorf("candidate fields not decoded: %+v", c.ICECandidateInit)
	}
}

func TestNewMessageUsesOriginalFieldNames(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg, err := NewMessage("m1", "alice", "", JoinMeeting{ParticipantInfo{ParticipantID: "alice", ParticipantName: "Alice"}}, now)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"type":"join-meeting"`, `"meetingId":"m1"`, `"fromParticipant":"alice"`, `"participantName":"Alice"`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded message %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "toParticipant") {
		t.Errorf("broadcast message should omit toParticipant: %s", s)
	}
}

func TestDecodeDefaultsSenderForLeave(t *testing.T) {
	msg := SignalingMessage{Type: TypeParticipantLeft, MeetingID: "m1", From: "bob"}
	p, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if left := p.(ParticipantLeft); left.ParticipantID != "bob" {
		t.Errorf("ParticipantID = %q, want bob", left.ParticipantID)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		msg  SignalingMessage
		want error
	}{
		{"unknown type", SignalingMessage{Type: "renegotiate", MeetingID: "m1", From: "a"}, ErrUnknownType},
		{"no sender", SignalingMessage{Type: TypeOffer, MeetingID: "m1", Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}, ErrMalformed},
		{"no meeting", SignalingMessage{Type: TypeOffer, From: "a", Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}, ErrMalformed},
		{"offer without sdp", SignalingMessage{Type: TypeOffer, MeetingID: "m1", From: "a", Data: json.RawMessage(`{"type":"offer"}`)}, ErrMalformed},
		{"answer typed as offer", SignalingMessage{Type: TypeAnswer, MeetingID: "m1", From: "a", Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}, ErrMalformed},
		{"bad json", SignalingMessage{Type: TypeChatMessage, MeetingID: "m1", From: "a", Data: json.RawMessage(`"hello"`)}, ErrMalformed},
		{"roster entry without id", SignalingMessage{Type: TypeMeetingParticipants, MeetingID: "m1", From: "a", Data: json.RawMessage(`{"participants":[{"participantName":"x"}]}`)}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.msg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeEmptyRoster(t *testing.T) {
	msg := SignalingMessage{Type: TypeMeetingParticipants, MeetingID: "m1", From: "relay", Data: json.RawMessage(`{"participants":[]}`)}
	p, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n := len(p.(MeetingParticipants).Participants); n != 0 {
		t.Errorf("len(Participants) = %d, want 0", n)
	}
}

func TestDecodeRelayRosterWithoutSender(t *testing.T) {
	msg := SignalingMessage{Type: TypeMeetingParticipants, MeetingID: "m1", Data: json.RawMessage(`{"participants":[{"participantId":"a","participantName":"Alice"}]}`)}
	p, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := p.(MeetingParticipants).Participants[0].ParticipantID; got != "a" {
		t.Errorf("ParticipantID = %q, want a", got)
	}
}
