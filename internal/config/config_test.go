package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-pantera/pkg/delivery"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"DEVICE_ID", "SERVER_HOSTS", "TCP_PORT", "SIGNALING_URL", "NETWORK_TIMEOUT", "LOCATION_SOURCE", "REPLAY_INTERVAL", "AUTO_START"} {
		t.Setenv(k, "")
	}

	c := FromEnv()
	if c.DeviceID == "" {
		t.Error("DeviceID should fall back to a generated id")
	}
	if len(c.ServerHosts) != 4 {
		t.Errorf("ServerHosts = %v", c.ServerHosts)
	}
	if c.TCPPort != 5000 || c.UDPPort != 6001 {
		t.Errorf("ports = %d/%d", c.TCPPort, c.UDPPort)
	}
	if c.NetworkTimeout != 5*time.Second {
		t.Errorf("NetworkTimeout = %v", c.NetworkTimeout)
	}
	if c.SignalingURL != "wss://35.173.90.231:8443" {
		t.Errorf("SignalingURL = %q", c.SignalingURL)
	}
	if c.LocationSource != "-" || !c.AutoStart || c.ReplayInterval != 0 {
		t.Errorf("source = %q autostart = %v replay = %v", c.LocationSource, c.AutoStart, c.ReplayInterval)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DEVICE_ID", "dev1")
	t.Setenv("SERVER_HOSTS", " a , b,,")
	t.Setenv("TCP_PORT", "7000")
	t.Setenv("DRAIN_DELAY", "250")
	t.Setenv("NETWORK_TIMEOUT", "2s")
	t.Setenv("BACKGROUND_PERMISSION", "false")

	c := FromEnv()
	if c.DeviceID != "dev1" {
		t.Errorf("DeviceID = %q", c.DeviceID)
	}
	if len(c.ServerHosts) != 2 || c.ServerHosts[0] != "a" || c.ServerHosts[1] != "b" {
		t.Errorf("ServerHosts = %v", c.ServerHosts)
	}
	if c.TCPPort != 7000 {
		t.Errorf("TCPPort = %d", c.TCPPort)
	}
	if c.DrainDelay != 250*time.Millisecond {
		t.Errorf("DrainDelay = %v", c.DrainDelay)
	}
	if c.NetworkTimeout != 2*time.Second {
		t.Errorf("NetworkTimeout = %v", c.NetworkTimeout)
	}
	if c.BackgroundPermission {
		t.Error("BackgroundPermission should be false")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("DEVICE_ID", "dev1")
	t.Setenv("VIDEO_CODEC", "")
	base := FromEnv

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no hosts", func(c *Config) { c.ServerHosts = nil }},
		{"bad port", func(c *Config) { c.UDPPort = 70000 }},
		{"zero timeout", func(c *Config) { c.NetworkTimeout = 0 }},
		{"zero capacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"bad codec", func(c *Config) { c.VideoCodec = "av1" }},
		{"empty device", func(c *Config) { c.DeviceID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestTargets(t *testing.T) {
	c := Config{ServerHosts: []string{"h1", "h2", "h3", "h4"}, TCPPort: 5000, UDPPort: 6001}
	targets := c.Targets()
	if len(targets) != 8 {
		t.Fatalf("len = %d, want 8", len(targets))
	}
	tcp, udp := 0, 0
	for _, tg := range targets {
		switch tg.Transport {
		case delivery.TCP:
			tcp++
		case delivery.UDP:
			udp++
		}
	}
	if tcp != 4 || udp != 4 {
		t.Errorf("tcp=%d udp=%d", tcp, udp)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PANTERA_TEST_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PANTERA_TEST_KEY", "")
	os.Unsetenv("PANTERA_TEST_KEY")

	if err := Load(path); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if got := GetEnv("PANTERA_TEST_KEY", ""); got != "from-file" {
		t.Errorf("PANTERA_TEST_KEY = %q", got)
	}
}
