// pantera: GPS tracking client with multi-server fan-out and live video
// Reads fixes from stdin or a trace file and fans each one out over TCP
// and UDP to every configured collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/teslashibe/go-pantera/internal/config"
	"github.com/teslashibe/go-pantera/pkg/app"
)

func main() {
	cfg := parseFlags()

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := a.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags loads .env and the environment, then applies command line
// overrides.
func parseFlags() config.Config {
	config.Load(".env")
	cfg := config.FromEnv()

	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	deviceID := flag.String("device-id", "", "Device identifier (overrides DEVICE_ID)")
	servers := flag.String("servers", "", "Comma-separated collector hosts (overrides SERVER_HOSTS)")
	source := flag.String("source", cfg.LocationSource, "Fix source: - for stdin or a path to a JSON lines trace")
	replay := flag.Duration("replay", cfg.ReplayInterval, "Pause between replayed fixes")
	webPort := flag.Int("web-port", cfg.WebPort, "Dashboard port")
	signalingURL := flag.String("signaling", cfg.SignalingURL, "Signaling relay URL")
	noStart := flag.Bool("no-start", false, "Wait for POST /api/tracking/start instead of tracking immediately")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *deviceID != "" {
		cfg.DeviceID = *deviceID
	}
	if *servers != "" {
		var hosts []string
		for _, h := range strings.Split(*servers, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		cfg.ServerHosts = hosts
	}
	if *noStart {
		cfg.AutoStart = false
	}
	cfg.LocationSource = *source
	cfg.ReplayInterval = *replay
	cfg.WebPort = *webPort
	cfg.SignalingURL = *signalingURL

	if cfg.ReplayInterval < 0 {
		cfg.ReplayInterval = 0
	}
	return cfg
}
