package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-pantera/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, tcpPort, udpPort int) config.Config {
	t.Helper()
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(probe.Close)

	fixes := filepath.Join(t.TempDir(), "fixes.jsonl")
	line := fmt.Sprintf(`{"lat":4.5,"lon":-74.1,"time":%d}`+"\n", time.Now().UnixMilli())
	if err := os.WriteFile(fixes, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}

	return config.Config{
		DeviceID:       "dev-app",
		ServerHosts:    []string{"127.0.0.1"},
		TCPPort:        tcpPort,
		UDPPort:        udpPort,
		WebRTCPort:     config.DefaultWebRTCPort,
		SignalingURL:   fmt.Sprintf("ws://127.0.0.1:%d", freePort(t)),
		NetworkTimeout: time.Second,
		QueueCapacity:  10,
		DrainDelay:     time.Millisecond,
		MaxFixAge:      config.DefaultMaxFixAge,
		MaxClockSkew:   config.DefaultMaxClockSkew,
		ProbeURL:       probe.URL,
		ProbeInterval:  50 * time.Millisecond,
		RTPIngestAddr:  "127.0.0.1:0",
		VideoCodec:     "h264",
		LocationSource: fixes,
		AutoStart:      true,
		WebPort:        freePort(t),
		LogLevel:       "error",
		LogFormat:      "text",

		LocationPermission:   true,
		BackgroundPermission: true,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(config.Config{}); err == nil {
		t.Error("New() with empty config should fail")
	}
}

func TestInitMissingSource(t *testing.T) {
	cfg := testConfig(t, 1, 2)
	cfg.LocationSource = filepath.Join(t.TempDir(), "missing.jsonl")

	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(); err == nil {
		t.Error("Init() should fail for a missing location source")
	}
}

func TestRunDeliversFixes(t *testing.T) {
	tcp, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer tcp.Close()
	udp, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer udp.Close()

	received := make(chan string, 2)
	go func() {
		conn, err := tcp.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 512)
		n, _ := conn.Read(buf)
		received <- "tcp " + string(buf[:n])
	}()
	go func() {
		buf := make([]byte, 512)
		udp.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, _, err := udp.ReadFrom(buf)
		if err != nil {
			return
		}
		received <- "udp " + string(buf[:n])
	}()

	cfg := testConfig(t,
		tcp.Addr().(*net.TCPAddr).Port,
		udp.LocalAddr().(*net.UDPAddr).Port,
	)
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
		a.Shutdown()
	}()

	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			if !strings.Contains(got, `"deviceId":"dev-app"`) {
				t.Errorf("payload = %s", got)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("only %d of 2 destinations received the fix", i)
		}
	}

	// Video fails against the closed signaling port but tracking continues.
	deadline := time.Now().Add(2 * time.Second)
	for !a.Coordinator().Tracking() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !a.Coordinator().Tracking() {
		t.Fatal("coordinator should be tracking")
	}
	if a.Broadcaster().Running() {
		t.Error("broadcaster should not be running without signaling")
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.WebPort))
	for i := 0; err != nil && i < 50; i++ {
		time.Sleep(20 * time.Millisecond)
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.WebPort))
	}
	if err != nil {
		t.Fatalf("dashboard unreachable: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"tracking":true`) {
		t.Errorf("/health = %s", body)
	}
}
