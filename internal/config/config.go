package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pantera/pkg/delivery"
)

// Reference deployment.
const (
	DefaultTCPPort    = 5000
	DefaultUDPPort    = 6001
	DefaultWebRTCPort = 8443
	DefaultWebPort    = 8080

	DefaultNetworkTimeout = 5 * time.Second
	DefaultQueueCapacity  = 100
	DefaultDrainDelay     = 500 * time.Millisecond
	DefaultMaxFixAge      = 5 * time.Minute
	DefaultMaxClockSkew   = time.Minute
	DefaultProbeURL       = "https://clients3.google.com/generate_204"
	DefaultProbeInterval  = 5 * time.Second
	DefaultRTPIngestAddr  = "127.0.0.1:5004"
	DefaultVideoCodec     = "h264"
)

// DefaultServerHosts are the redundant collectors of the reference deployment.
var DefaultServerHosts = []string{
	"35.173.90.231",
	"3.130.62.74",
	"54.84.99.30",
	"98.89.220.57",
}

// DefaultSTUNURLs are the public STUN servers used for ICE gathering.
var DefaultSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config is the full runtime configuration of the tracking client.
type Config struct {
	DeviceID string

	ServerHosts []string
	TCPPort     int
	UDPPort     int
	WebRTCPort  int

	SignalingURL string
	STUNURLs     []string

	NetworkTimeout time.Duration
	QueueCapacity  int
	DrainDelay     time.Duration
	MaxFixAge      time.Duration
	MaxClockSkew   time.Duration

	ProbeURL      string
	ProbeInterval time.Duration

	RTPIngestAddr string
	VideoCodec    string

	// LocationSource is "-" for stdin or a path to newline-delimited JSON fixes.
	LocationSource string
	ReplayInterval time.Duration
	AutoStart      bool

	WebPort   int
	LogLevel  string
	LogFormat string

	LocationPermission   bool
	BackgroundPermission bool
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() Config {
	c := Config{
		DeviceID:             GetEnv("DEVICE_ID", ""),
		ServerHosts:          GetEnvList("SERVER_HOSTS", DefaultServerHosts),
		TCPPort:              GetEnvInt("TCP_PORT", DefaultTCPPort),
		UDPPort:              GetEnvInt("UDP_PORT", DefaultUDPPort),
		WebRTCPort:           GetEnvInt("WEBRTC_PORT", DefaultWebRTCPort),
		SignalingURL:         GetEnv("SIGNALING_URL", ""),
		STUNURLs:             GetEnvList("STUN_URLS", DefaultSTUNURLs),
		NetworkTimeout:       GetEnvDuration("NETWORK_TIMEOUT", DefaultNetworkTimeout),
		QueueCapacity:        GetEnvInt("QUEUE_CAPACITY", DefaultQueueCapacity),
		DrainDelay:           GetEnvDuration("DRAIN_DELAY", DefaultDrainDelay),
		MaxFixAge:            GetEnvDuration("MAX_FIX_AGE", DefaultMaxFixAge),
		MaxClockSkew:         GetEnvDuration("MAX_CLOCK_SKEW", DefaultMaxClockSkew),
		ProbeURL:             GetEnv("PROBE_URL", DefaultProbeURL),
		ProbeInterval:        GetEnvDuration("PROBE_INTERVAL", DefaultProbeInterval),
		RTPIngestAddr:        GetEnv("RTP_INGEST_ADDR", DefaultRTPIngestAddr),
		VideoCodec:           GetEnv("VIDEO_CODEC", DefaultVideoCodec),
		LocationSource:       GetEnv("LOCATION_SOURCE", "-"),
		ReplayInterval:       GetEnvDuration("REPLAY_INTERVAL", 0),
		AutoStart:            GetEnvBool("AUTO_START", true),
		WebPort:              GetEnvInt("WEB_PORT", DefaultWebPort),
		LogLevel:             GetEnv("LOG_LEVEL", "info"),
		LogFormat:            GetEnv("LOG_FORMAT", "text"),
		LocationPermission:   GetEnvBool("LOCATION_PERMISSION", true),
		BackgroundPermission: GetEnvBool("BACKGROUND_PERMISSION", true),
	}

	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
	}
	if c.SignalingURL == "" && len(c.ServerHosts) > 0 {
		c.SignalingURL = "wss://" + net.JoinHostPort(c.ServerHosts[0], strconv.Itoa(c.WebRTCPort))
	}
	return c
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("config: DEVICE_ID is empty")
	}
	if len(c.ServerHosts) == 0 {
		return errors.New("config: SERVER_HOSTS must list at least one host")
	}
	for name, port := range map[string]int{
		"TCP_PORT":    c.TCPPort,
		"UDP_PORT":    c.UDPPort,
		"WEBRTC_PORT": c.WebRTCPort,
		"WEB_PORT":    c.WebPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("config: %s %d out of range", name, port)
		}
	}
	if c.NetworkTimeout <= 0 {
		return errors.New("config: NETWORK_TIMEOUT must be positive")
	}
	if c.QueueCapacity <= 0 {
		return errors.New("config: QUEUE_CAPACITY must be positive")
	}
	if c.MaxFixAge <= 0 || c.MaxClockSkew < 0 {
		return errors.New("config: invalid freshness window")
	}
	switch c.VideoCodec {
	case "h264", "vp8":
	default:
		return fmt.Errorf("config: unsupported VIDEO_CODEC %q", c.VideoCodec)
	}
	return nil
}

// Targets expands the host list into one TCP and one UDP destination per host.
func (c Config) Targets() []delivery.Target {
	return delivery.Targets(c.ServerHosts, c.TCPPort, c.UDPPort)
}
