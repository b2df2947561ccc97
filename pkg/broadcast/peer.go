package broadcast

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Peer is the part of a WebRTC peer connection a Session drives.
type Peer interface {
	AddSendOnlyTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	// OnICECandidate reports local candidates; nil marks the end of gathering.
	OnICECandidate(fn func(c *webrtc.ICECandidateInit))
	// OnFailure fires when ICE connectivity fails or closes.
	OnFailure(fn func(reason string))
	Close() error
}

// PeerFactory creates one Peer per viewer.
type PeerFactory func() (Peer, error)

// PionFactory creates pion peer connections using the given STUN servers.
func PionFactory(stunURLs []string) PeerFactory {
	cfg := webrtc.Configuration{
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
	}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}
	return func() (Peer, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return &pionPeer{pc: pc}, nil
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddSendOnlyTrack(track webrtc.TrackLocal) error {
	tr, err := p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return err
	}

	// Read RTCP so interceptors (NACK, reports) keep working.
	sender := tr.Sender()
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) OnICECandidate(fn func(c *webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

func (p *pionPeer) OnFailure(fn func(reason string)) {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		switch s {
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			fn(s.String())
		}
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
