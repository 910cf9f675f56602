// Package signaling carries negotiation messages between the participants of a
// session. It knows nothing about offer/answer semantics: the Service delivers
// Message values to and from a session relay and hands every inbound message
// to a single registered handler.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Broadcast is the "to" value addressing every other participant of the
// session.
const Broadcast = "broadcast"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeCandidate    MessageType = "candidate"
	TypeLeave        MessageType = "leave"
	TypeStartScreen  MessageType = "startScreen"
	TypeStopScreen   MessageType = "stopScreen"
	TypeCancelScreen MessageType = "cancelScreen"
	TypeSyncScreen   MessageType = "syncScreen"
	TypeSyncCamera   MessageType = "syncCamera"
	TypeJoin         MessageType = "join"
)

// ConnectionType selects which negotiator a message belongs to.
type ConnectionType string

const (
	Camera ConnectionType = "camera"
	Screen ConnectionType = "screen"
)

// States is the auxiliary intent payload used to reconcile session state
// (mute flags, screen sharing) between participants.
type States struct {
	CameraOn      *bool `json:"cameraOn,omitempty"`
	MicOn         *bool `json:"micOn,omitempty"`
	ScreenSharing *bool `json:"screenSharing,omitempty"`
}

// Message is the JSON envelope exchanged over the relay.
type Message struct {
	From           string          `json:"from"`
	To             string          `json:"to"`
	Type           MessageType     `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	SessionID      string          `json:"sessionId"`
	ConnectionType ConnectionType  `json:"connectionType,omitempty"`
	States         *States         `json:"states,omitempty"`
}

// ErrNoPayload is returned when a message that needs a payload has none.
var ErrNoPayload = errors.New("signaling: message has no payload")

// Kind returns the message's connection type, defaulting to Camera when the
// sender omitted it.
func (m Message) Kind() ConnectionType {
	if m.ConnectionType == "" {
		return Camera
	}
	return m.ConnectionType
}

// Description decodes the session description carried by an offer or answer.
func (m Message) Description() (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if len(m.Payload) == 0 {
		return sd, ErrNoPayload
	}
	if err := json.Unmarshal(m.Payload, &sd); err != nil {
		return sd, fmt.Errorf("signaling: decode %s description: %w", m.Type, err)
	}
	return sd, nil
}

// Candidate decodes the ICE candidate carried by a candidate message.
func (m Message) Candidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if len(m.Payload) == 0 {
		return c, ErrNoPayload
	}
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return c, fmt.Errorf("signaling: decode candidate: %w", err)
	}
	return c, nil
}

// NewDescription builds an offer or answer message for the given connection.
func NewDescription(kind ConnectionType, to string, sd webrtc.SessionDescription) (Message, error) {
	data, err := json.Marshal(sd)
	if err != nil {
		return Message{}, err
	}

	typ := TypeOffer
	if sd.Type == webrtc.SDPTypeAnswer {
		typ = TypeAnswer
	}
	return Message{To: to, Type: typ, Payload: data, ConnectionType: kind}, nil
}

// NewCandidate builds a trickle ICE candidate message.
func NewCandidate(kind ConnectionType, to string, c webrtc.ICECandidateInit) (Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Type: TypeCandidate, Payload: data, ConnectionType: kind}, nil
}

// Bool returns a pointer to b, for filling States.
func Bool(b bool) *bool { return &b }
