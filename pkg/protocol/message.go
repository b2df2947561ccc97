// Package protocol defines the signaling messages exchanged between the
// broadcaster, the relay, and viewers over a websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of signaling message
type MessageType string

const (
	// Broadcaster → relay
	TypeRegisterBroadcaster MessageType = "register-broadcaster"
	TypeOffer               MessageType = "offer"

	// Relay → broadcaster
	TypeViewerJoined       MessageType = "viewer-joined"
	TypeAnswer             MessageType = "answer"
	TypeViewerDisconnected MessageType = "viewer-disconnected"
	TypeDetectionUpdate    MessageType = "detection-update"

	// Bidirectional
	TypeICECandidate MessageType = "ice-candidate"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
)

// Message is the envelope for every signaling message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if len(m.Data) == 0 {
		return ErrEmptyData
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}

// =============================================================================
// Payloads
// =============================================================================

// RegisterData announces the broadcasting device
type RegisterData struct {
	DeviceID string `json:"deviceId"`
}

// ViewerJoinedData announces a new viewer socket
type ViewerJoinedData struct {
	SocketID string `json:"socketId"`
}

// SessionDescription is an SDP blob with its type ("offer" or "answer")
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// OfferData is sent by the broadcaster to one viewer
type OfferData struct {
	Target string             `json:"target"`
	SDP    SessionDescription `json:"sdp"`
}

// AnswerData is sent by a viewer; the relay stamps Sender
type AnswerData struct {
	Sender string             `json:"sender"`
	SDP    SessionDescription `json:"sdp"`
}

// Candidate is one trickled ICE candidate
type Candidate struct {
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Candidate     string  `json:"candidate"`
}

// ICECandidateData carries Target when broadcaster-originated and Sender
// when viewer-originated.
type ICECandidateData struct {
	Target    string    `json:"target,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Candidate Candidate `json:"candidate"`
}

// ViewerDisconnectedData announces a viewer leaving
type ViewerDisconnectedData struct {
	ViewerID string `json:"viewerId"`
}

// DetectionUpdateData is a person-detection result for a device
type DetectionUpdateData struct {
	DeviceID    string `json:"deviceId"`
	PersonCount int    `json:"personCount"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
