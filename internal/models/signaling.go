package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformed   = errors.New("malformed signaling message")
	ErrUnknownType = errors.New("unknown signaling message type")
)

// MessageType is the discriminator of a SignalingMessage.
type MessageType string

const (
	TypeOffer               MessageType = "offer"
	TypeAnswer              MessageType = "answer"
	TypeICECandidate        MessageType = "ice-candidate"
	TypeParticipantJoined   MessageType = "participant-joined"
	TypeParticipantLeft     MessageType = "participant-left"
	TypeJoinMeeting         MessageType = "join-meeting"
	TypeMeetingParticipants MessageType = "meeting-participants"
	TypeChatMessage         MessageType = "chat-message"
)

// SignalingMessage is the wire unit exchanged through a transport. An empty
// To means the message goes to every subscriber of the transport, not every
// member of the meeting, so receivers filter by MeetingID and To themselves.
type SignalingMessage struct {
	Type      MessageType     `json:"type"`
	MeetingID string          `json:"meetingId"`
	From      string          `json:"fromParticipant"`
	To        string          `json:"toParticipant,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// For reports whether the message is meant for participant id in meetingID.
func (m SignalingMessage) For(meetingID, id string) bool {
	return m.MeetingID == meetingID && (m.To == "" || m.To == id)
}

// Payload is the typed body of a SignalingMessage. The set of
// implementations is closed; see Decode.
type Payload interface {
	MessageType() MessageType
	validate() error
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidateInit is a trickled ICE candidate.
type ICECandidateInit struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type Offer struct{ SessionDescription }

type Answer struct{ SessionDescription }

type ICECandidate struct{ ICECandidateInit }

// ParticipantInfo identifies a participant in roster payloads.
type ParticipantInfo struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	IsHost          bool   `json:"isHost,omitempty"`
}

type ParticipantJoined struct{ ParticipantInfo }

type JoinMeeting struct{ ParticipantInfo }

type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
}

type MeetingParticipants struct {
	Participants []ParticipantInfo `json:"participants"`
}

type ChatMessage struct {
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
}

func (Offer) MessageType() MessageType               { return TypeOffer }
func (Answer) MessageType() MessageType              { return TypeAnswer }
func (ICECandidate) MessageType() MessageType        { return TypeICECandidate }
func (ParticipantJoined) MessageType() MessageType   { return TypeParticipantJoined }
func (ParticipantLeft) MessageType() MessageType     { return TypeParticipantLeft }
func (JoinMeeting) MessageType() MessageType         { return TypeJoinMeeting }
func (MeetingParticipants) MessageType() MessageType { return TypeMeetingParticipants }
func (ChatMessage) MessageType() MessageType         { return TypeChatMessage }

func (p Offer) validate() error  { return validateSDP("offer", p.SessionDescription) }
func (p Answer) validate() error { return validateSDP("answer", p.SessionDescription) }

func (ICECandidate) validate() error { return nil }

func (p ParticipantJoined) validate() error { return validateInfo(p.ParticipantInfo) }
func (p JoinMeeting) validate() error       { return validateInfo(p.ParticipantInfo) }

func (p ParticipantLeft) validate() error {
	if p.ParticipantID == "" {
		return fmt.Errorf("%w: participant-left without participantId", ErrMalformed)
	}
	return nil
}

func (p MeetingParticipants) validate() error {
	for _, info := range p.Participants {
		if err := validateInfo(info); err != nil {
			return err
		}
	}
	return nil
}

func (p ChatMessage) validate() error {
	if p.Message == "" {
		return fmt.Errorf("%w: empty chat message", ErrMalformed)
	}
	return nil
}

func validateSDP(want string, d SessionDescription) error {
	if d.SDP == "" {
		return fmt.Errorf("%w: %s without sdp", ErrMalformed, want)
	}
	if d.Type != "" && d.Type != want {
		return fmt.Errorf("%w: %s carries sdp type %q", ErrMalformed, want, d.Type)
	}
	return nil
}

func validateInfo(info ParticipantInfo) error {
	if info.ParticipantID == "" {
		return fmt.Errorf("%w: participant without id", ErrMalformed)
	}
	return nil
}

// NewMessage encodes p into a SignalingMessage stamped with now.
func NewMessage(meetingID, from, to string, p Payload, now time.Time) (SignalingMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return SignalingMessage{}, fmt.Errorf("encode %s: %w", p.MessageType(), err)
	}
	return SignalingMessage{
		Type:      p.MessageType(),
		MeetingID: meetingID,
		From:      from,
		To:        to,
		Data:      data,
		Timestamp: now,
	}, nil
}

// Decode returns the typed payload of m. Errors wrap ErrMalformed or
// ErrUnknownType. Only meeting-participants may omit the sender, since a
// relay answers join requests on its own behalf.
func Decode(m SignalingMessage) (Payload, error) {
	if m.MeetingID == "" {
		return nil, fmt.Errorf("%w: missing meetingId", ErrMalformed)
	}
	if m.From == "" && m.Type != TypeMeetingParticipants {
		return nil, fmt.Errorf("%w: missing fromParticipant", ErrMalformed)
	}

	var p Payload
	switch m.Type {
	case TypeOffer:
		p = &Offer{}
	case TypeAnswer:
		p = &Answer{}
	case TypeICECandidate:
		p = &ICECandidate{}
	case TypeParticipantJoined:
		p = &ParticipantJoined{}
	case TypeParticipantLeft:
		p = &ParticipantLeft{}
	case TypeJoinMeeting:
		p = &JoinMeeting{}
	case TypeMeetingParticipants:
		p = &MeetingParticipants{}
	case TypeChatMessage:
		p = &ChatMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	if err := json.Unmarshal(orEmpty(m.Data), p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type, err)
	}
	p = deref(p)

	// participant-left and join-meeting identify the sender when the body omits it.
	switch v := p.(type) {
	case ParticipantLeft:
		if v.ParticipantID == "" {
			v.ParticipantID = m.From
			p = v
		}
	case JoinMeeting:
		if v.ParticipantID == "" {
			v.ParticipantID = m.From
			p = v
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func orEmpty(data json.RawMessage) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("{}")
	}
	return data
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Offer:
		return *v
	case *Answer:
		return *v
	case *ICECandidate:
		return *v
	case *ParticipantJoined:
		return *v
	case *ParticipantLeft:
		return *v
	case *JoinMeeting:
		return *v
	case *MeetingParticipants:
		return *v
	case *ChatMessage:
		return *v
	}
	return p
}
