// Package relay is a development signaling relay. It pairs one broadcaster
// per device with any number of viewers and routes offers, answers and ICE
// candidates between them by socket id.
package relay

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/protocol"
)

// maxMessageSize bounds one inbound frame
const maxMessageSize = 256 * 1024

// Peer is one connected websocket, broadcaster or viewer
type Peer struct {
	ID        string
	DeviceID  string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// Send writes a message; writes on one connection are serialized
func (p *Peer) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// LastSeen returns when the peer last sent a frame
func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// Relay routes signaling between broadcasters and viewers
type Relay struct {
	mu           sync.RWMutex
	broadcasters map[string]*Peer            // deviceId → broadcaster
	viewers      map[string]map[string]*Peer // deviceId → socketId → viewer

	logger *slog.Logger

	received  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an empty relay
func New(logger *slog.Logger) *Relay {
	return &Relay{
		broadcasters: make(map[string]*Peer),
		viewers:      make(map[string]map[string]*Peer),
		logger:       log.Or(logger, "relay"),
	}
}

// RegisterRoutes registers the websocket endpoints on a Fiber app
func (r *Relay) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/broadcaster", websocket.New(r.handleBroadcaster))
	app.Get("/ws/broadcaster/:deviceId", websocket.New(r.handleBroadcaster))
	app.Get("/ws/viewer/:deviceId", websocket.New(r.handleViewer))
}

// handleBroadcaster serves one broadcaster connection. The first frame must
// be register-broadcaster; a path device id, if present, must match it.
func (r *Relay) handleBroadcaster(c *websocket.Conn) {
	c.SetReadLimit(maxMessageSize)
	pathID := c.Params("deviceId")

	_, data, err := c.ReadMessage()
	if err != nil {
		return
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypeRegisterBroadcaster {
		r.logger.Warn("broadcaster did not register", "error", err)
		return
	}
	reg, err := msg.GetRegisterData()
	if err != nil {
		r.logger.Warn("invalid register-broadcaster", "error", err)
		return
	}
	if pathID != "" && pathID != reg.DeviceID {
		r.logger.Warn("device id mismatch", "path", pathID, "registered", reg.DeviceID)
		return
	}

	now := time.Now()
	b := &Peer{ID: reg.DeviceID, DeviceID: reg.DeviceID, Conn: c, Connected: now, lastSeen: now}

	r.mu.Lock()
	prev := r.broadcasters[b.DeviceID]
	r.broadcasters[b.DeviceID] = b
	waiting := r.viewerListLocked(b.DeviceID)
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("broadcaster replaced", "device_id", b.DeviceID)
		prev.Conn.Close()
	}
	r.logger.Info("broadcaster connected", "device_id", b.DeviceID, "viewers", len(waiting))

	// Viewers that arrived first still need sessions.
	for _, v := range waiting {
		r.notifyJoined(b, v.ID)
	}

	defer func() {
		r.mu.Lock()
		if r.broadcasters[b.DeviceID] == b {
			delete(r.broadcasters, b.DeviceID)
		}
		r.mu.Unlock()
		r.logger.Info("broadcaster disconnected", "device_id", b.DeviceID)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		b.touch()
		r.received.Add(1)
		r.fromBroadcaster(b, data)
	}
}

func (r *Relay) fromBroadcaster(b *Peer, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		r.drop("parse error", "device_id", b.DeviceID, "error", err)
		return
	}

	var target string
	switch msg.Type {
	case protocol.TypeOffer:
		d, err := msg.GetOffer()
		if err != nil {
			r.drop("invalid offer", "device_id", b.DeviceID, "error", err)
			return
		}
		target = d.Target

	case protocol.TypeICECandidate:
		d, err := msg.GetICECandidate()
		if err != nil || d.Target == "" {
			r.drop("invalid ice-candidate", "device_id", b.DeviceID, "error", err)
			return
		}
		target = d.Target

	case protocol.TypePing:
		r.pong(b, msg)
		return

	case protocol.TypePong:
		return

	default:
		r.drop("unsupported broadcaster message", "type", msg.Type)
		return
	}

	r.mu.RLock()
	v := r.viewers[b.DeviceID][target]
	r.mu.RUnlock()
	if v == nil {
		r.drop("target viewer not connected", "device_id", b.DeviceID, "target", target)
		return
	}
	r.forward(v, msg)
}

// handleViewer serves one viewer connection under a fresh socket id
func (r *Relay) handleViewer(c *websocket.Conn) {
	c.SetReadLimit(maxMessageSize)

	now := time.Now()
	v := &Peer{
		ID:        uuid.NewString(),
		DeviceID:  c.Params("deviceId"),
		Conn:      c,
		Connected: now,
		lastSeen:  now,
	}

	r.mu.Lock()
	if r.viewers[v.DeviceID] == nil {
		r.viewers[v.DeviceID] = make(map[string]*Peer)
	}
	r.viewers[v.DeviceID][v.ID] = v
	b := r.broadcasters[v.DeviceID]
	r.mu.Unlock()

	r.logger.Info("viewer connected", "device_id", v.DeviceID, "socket_id", v.ID)
	if b != nil {
		r.notifyJoined(b, v.ID)
	}

	defer func() {
		r.mu.Lock()
		delete(r.viewers[v.DeviceID], v.ID)
		if len(r.viewers[v.DeviceID]) == 0 {
			delete(r.viewers, v.DeviceID)
		}
		b := r.broadcasters[v.DeviceID]
		r.mu.Unlock()

		r.logger.Info("viewer disconnected", "device_id", v.DeviceID, "socket_id", v.ID)
		if b != nil {
			if msg, err := protocol.NewViewerDisconnectedMessage(v.ID); err == nil {
				r.forward(b, msg)
			}
		}
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		v.touch()
		r.received.Add(1)
		r.fromViewer(v, data)
	}
}

// fromViewer stamps the viewer's socket id as sender, replacing whatever
// the viewer claimed, and forwards to the broadcaster.
func (r *Relay) fromViewer(v *Peer, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		r.drop("parse error", "socket_id", v.ID, "error", err)
		return
	}

	var out *protocol.Message
	switch msg.Type {
	case protocol.TypeAnswer:
		var d protocol.AnswerData
		if err := msg.ParseData(&d); err != nil || d.SDP.SDP == "" {
			r.drop("invalid answer", "socket_id", v.ID, "error", err)
			return
		}
		out, err = protocol.NewAnswerMessage(v.ID, d.SDP.SDP)

	case protocol.TypeICECandidate:
		var d protocol.ICECandidateData
		if err := msg.ParseData(&d); err != nil || d.Candidate.Candidate == "" {
			r.drop("invalid ice-candidate", "socket_id", v.ID, "error", err)
			return
		}
		out, err = protocol.NewViewerCandidateMessage(v.ID, d.Candidate)

	case protocol.TypePing:
		r.pong(v, msg)
		return

	default:
		r.drop("unsupported viewer message", "type", msg.Type)
		return
	}
	if err != nil {
		r.drop("encode failed", "error", err)
		return
	}

	r.mu.RLock()
	b := r.broadcasters[v.DeviceID]
	r.mu.RUnlock()
	if b == nil {
		r.drop("broadcaster not connected", "device_id", v.DeviceID)
		return
	}
	r.forward(b, out)
}

// SendDetection pushes a detection-update to a device's broadcaster
func (r *Relay) SendDetection(deviceID string, personCount int) error {
	r.mu.RLock()
	b := r.broadcasters[deviceID]
	r.mu.RUnlock()
	if b == nil {
		return fiber.NewError(fiber.StatusNotFound, "broadcaster not connected")
	}

	msg, err := protocol.NewDetectionMessage(deviceID, personCount, time.Now())
	if err != nil {
		return err
	}
	if err := b.Send(msg); err != nil {
		return err
	}
	r.forwarded.Add(1)
	return nil
}

func (r *Relay) notifyJoined(b *Peer, socketID string) {
	msg, err := protocol.NewViewerJoinedMessage(socketID)
	if err != nil {
		return
	}
	r.forward(b, msg)
}

func (r *Relay) forward(to *Peer, msg *protocol.Message) {
	if err := to.Send(msg); err != nil {
		r.drop("write failed", "to", to.ID, "type", msg.Type, "error", err)
		return
	}
	r.forwarded.Add(1)
}

func (r *Relay) pong(to *Peer, ping *protocol.Message) {
	id := ""
	if d, err := ping.GetPingData(); err == nil {
		id = d.ID
	}
	msg, err := protocol.NewPongMessage(id, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return
	}
	r.forward(to, msg)
}

func (r *Relay) drop(reason string, args ...any) {
	r.dropped.Add(1)
	r.logger.Debug("message dropped: "+reason, args...)
}

func (r *Relay) viewerListLocked(deviceID string) []*Peer {
	out := make([]*Peer, 0, len(r.viewers[deviceID]))
	for _, v := range r.viewers[deviceID] {
		out = append(out, v)
	}
	return out
}

// BroadcasterCount returns the number of registered broadcasters
func (r *Relay) BroadcasterCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.broadcasters)
}

// ViewerCount returns the number of viewers across devices
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, vs := range r.viewers {
		n += len(vs)
	}
	return n
}

// Stats contains relay statistics
type Stats struct {
	Broadcasters      int    `json:"broadcasters"`
	Viewers           int    `json:"viewers"`
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesForwarded uint64 `json:"messages_forwarded"`
	MessagesDropped   uint64 `json:"messages_dropped"`
}

// GetStats returns relay statistics
func (r *Relay) GetStats() Stats {
	return Stats{
		Broadcasters:      r.BroadcasterCount(),
		Viewers:           r.ViewerCount(),
		MessagesReceived:  r.received.Load(),
		MessagesForwarded: r.forwarded.Load(),
		MessagesDropped:   r.dropped.Load(),
	}
}

// DeviceInfo describes one device's broadcaster and viewers
type DeviceInfo struct {
	DeviceID    string    `json:"device_id"`
	Online      bool      `json:"online"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	Viewers     []string  `json:"viewers"`
}

// Devices lists every device with a broadcaster or a waiting viewer
func (r *Relay) Devices() []DeviceInfo {
	r.mu.RLock()
	ids := make(map[string]struct{})
	for id := range r.broadcasters {
		ids[id] = struct{}{}
	}
	for id := range r.viewers {
		ids[id] = struct{}{}
	}

	out := make([]DeviceInfo, 0, len(ids))
	for id := range ids {
		info := DeviceInfo{DeviceID: id, Viewers: []string{}}
		if b := r.broadcasters[id]; b != nil {
			info.Online = true
			info.ConnectedAt = b.Connected
			info.LastSeen = b.LastSeen()
		}
		for sid := range r.viewers[id] {
			info.Viewers = append(info.Viewers, sid)
		}
		sort.Strings(info.Viewers)
		out = append(out, info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// RegisterAPIRoutes registers relay inspection and test routes
func (r *Relay) RegisterAPIRoutes(api fiber.Router) {
	g := api.Group("/relay")

	g.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(r.GetStats())
	})

	g.Get("/devices", func(c *fiber.Ctx) error {
		devices := r.Devices()
		return c.JSON(fiber.Map{
			"devices": devices,
			"count":   len(devices),
		})
	})

	// Inject a detection result, as a detection service would
	g.Post("/devices/:deviceId/detection", func(c *fiber.Ctx) error {
		var body struct {
			PersonCount int `json:"personCount"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if err := r.SendDetection(c.Params("deviceId"), body.PersonCount); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "sent"})
	})
}
