package protocol

import (
	"fmt"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewRegisterMessage creates a register-broadcaster message
func NewRegisterMessage(deviceID string) (*Message, error) {
	return NewMessage(TypeRegisterBroadcaster, RegisterData{DeviceID: deviceID})
}

// NewViewerJoinedMessage creates a viewer-joined message
func NewViewerJoinedMessage(socketID string) (*Message, error) {
	return NewMessage(TypeViewerJoined, ViewerJoinedData{SocketID: socketID})
}

// NewOfferMessage creates an offer addressed to one viewer
func NewOfferMessage(target, sdp string) (*Message, error) {
	return NewMessage(TypeOffer, OfferData{
		Target: target,
		SDP:    SessionDescription{Type: "offer", SDP: sdp},
	})
}

// NewAnswerMessage creates an answer from a viewer
func NewAnswerMessage(sender, sdp string) (*Message, error) {
	return NewMessage(TypeAnswer, AnswerData{
		Sender: sender,
		SDP:    SessionDescription{Type: "answer", SDP: sdp},
	})
}

// NewCandidateMessage creates a broadcaster-originated ice-candidate
func NewCandidateMessage(target string, c Candidate) (*Message, error) {
	return NewMessage(TypeICECandidate, ICECandidateData{Target: target, Candidate: c})
}

// NewViewerCandidateMessage creates a viewer-originated ice-candidate
func NewViewerCandidateMessage(sender string, c Candidate) (*Message, error) {
	return NewMessage(TypeICECandidate, ICECandidateData{Sender: sender, Candidate: c})
}

// NewViewerDisconnectedMessage creates a viewer-disconnected message
func NewViewerDisconnectedMessage(viewerID string) (*Message, error) {
	return NewMessage(TypeViewerDisconnected, ViewerDisconnectedData{ViewerID: viewerID})
}

// NewDetectionMessage creates a detection-update message
func NewDetectionMessage(deviceID string, personCount int, at time.Time) (*Message, error) {
	return NewMessage(TypeDetectionUpdate, DetectionUpdateData{
		DeviceID:    deviceID,
		PersonCount: personCount,
		Timestamp:   at.UTC().Format(time.RFC3339),
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

func (m *Message) expect(t MessageType) error {
	if m.Type != t {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedType, m.Type, t)
	}
	return nil
}

// GetRegisterData extracts a register-broadcaster payload
func (m *Message) GetRegisterData() (*RegisterData, error) {
	if err := m.expect(TypeRegisterBroadcaster); err != nil {
		return nil, err
	}
	var data RegisterData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.DeviceID == "" {
		return nil, ErrMissingDevice
	}
	return &data, nil
}

// GetViewerJoined extracts a viewer-joined payload
func (m *Message) GetViewerJoined() (*ViewerJoinedData, error) {
	if err := m.expect(TypeViewerJoined); err != nil {
		return nil, err
	}
	var data ViewerJoinedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.SocketID == "" {
		return nil, ErrMissingViewer
	}
	return &data, nil
}

// GetOffer extracts an offer payload
func (m *Message) GetOffer() (*OfferData, error) {
	if err := m.expect(TypeOffer); err != nil {
		return nil, err
	}
	var data OfferData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Target == "" {
		return nil, ErrMissingTarget
	}
	if data.SDP.SDP == "" {
		return nil, ErrMissingSDP
	}
	return &data, nil
}

// GetAnswer extracts an answer payload. Answers without a sender cannot be
// routed and are rejected.
func (m *Message) GetAnswer() (*AnswerData, error) {
	if err := m.expect(TypeAnswer); err != nil {
		return nil, err
	}
	var data AnswerData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Sender == "" {
		return nil, ErrMissingSender
	}
	if data.SDP.SDP == "" {
		return nil, ErrMissingSDP
	}
	return &data, nil
}

// GetICECandidate extracts an ice-candidate payload. Either Target or
// Sender must be set.
func (m *Message) GetICECandidate() (*ICECandidateData, error) {
	if err := m.expect(TypeICECandidate); err != nil {
		return nil, err
	}
	var data ICECandidateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Target == "" && data.Sender == "" {
		return nil, ErrMissingSender
	}
	if data.Candidate.Candidate == "" {
		return nil, ErrMissingCandidate
	}
	return &data, nil
}

// GetViewerDisconnected extracts a viewer-disconnected payload
func (m *Message) GetViewerDisconnected() (*ViewerDisconnectedData, error) {
	if err := m.expect(TypeViewerDisconnected); err != nil {
		return nil, err
	}
	var data ViewerDisconnectedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.ViewerID == "" {
		return nil, ErrMissingViewer
	}
	return &data, nil
}

// GetDetectionUpdate extracts a detection-update payload
func (m *Message) GetDetectionUpdate() (*DetectionUpdateData, error) {
	if err := m.expect(TypeDetectionUpdate); err != nil {
		return nil, err
	}
	var data DetectionUpdateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.DeviceID == "" {
		return nil, ErrMissingDevice
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ViewerID returns the viewer a relay-originated message belongs to, read
// only from the explicit addressing field of its type.
func (m *Message) ViewerID() (string, error) {
	switch m.Type {
	case TypeViewerJoined:
		d, err := m.GetViewerJoined()
		if err != nil {
			return "", err
		}
		return d.SocketID, nil
	case TypeAnswer:
		d, err := m.GetAnswer()
		if err != nil {
			return "", err
		}
		return d.Sender, nil
	case TypeICECandidate:
		d, err := m.GetICECandidate()
		if err != nil {
			return "", err
		}
		if d.Sender == "" {
			return "", ErrMissingSender
		}
		return d.Sender, nil
	case TypeViewerDisconnected:
		d, err := m.GetViewerDisconnected()
		if err != nil {
			return "", err
		}
		return d.ViewerID, nil
	default:
		return "", fmt.Errorf("%w: %q carries no viewer id", ErrUnexpectedType, m.Type)
	}
}
