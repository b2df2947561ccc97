package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-pantera/internal/log"
)

// maxRTPPacket is the read buffer for one datagram (Ethernet MTU).
const maxRTPPacket = 1500

// RTPIngest is a Pipeline that receives RTP over UDP from an external
// encoder (for example a gstreamer or ffmpeg process) and writes each
// packet into the shared track.
type RTPIngest struct {
	addr   string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.PacketConn
	wg   sync.WaitGroup

	packets atomic.Uint64
	dropped atomic.Uint64
}

// NewRTPIngest creates an ingest listening on addr ("127.0.0.1:5004").
func NewRTPIngest(addr string, logger *slog.Logger) *RTPIngest {
	return &RTPIngest{addr: addr, logger: log.Or(logger, "capture")}
}

// Start binds the UDP socket and starts forwarding.
func (r *RTPIngest) Start(track *webrtc.TrackLocalStaticRTP) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return errors.New("capture: ingest already running")
	}
	conn, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.addr, err)
	}
	r.conn = conn

	r.wg.Add(1)
	go r.forward(conn, track)
	r.logger.Info("rtp ingest listening", "addr", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or nil when stopped.
func (r *RTPIngest) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop closes the socket and waits for the forwarder.
func (r *RTPIngest) Stop() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	r.wg.Wait()
	return err
}

// Packets returns how many packets were written to the track.
func (r *RTPIngest) Packets() uint64 { return r.packets.Load() }

// Dropped returns how many datagrams failed to parse.
func (r *RTPIngest) Dropped() uint64 { return r.dropped.Load() }

func (r *RTPIngest) forward(conn net.PacketConn, track *webrtc.TrackLocalStaticRTP) {
	defer r.wg.Done()

	buf := make([]byte, maxRTPPacket)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("rtp ingest read failed", "error", err)
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			r.dropped.Add(1)
			continue
		}

		// No viewer bound yet is not an error worth logging.
		if err := track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			r.logger.Debug("rtp write failed", "error", err)
			continue
		}
		r.packets.Add(1)
	}
}
