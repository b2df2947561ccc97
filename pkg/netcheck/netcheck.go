// Package netcheck answers "is the network usable right now" for the
// delivery path and signals when connectivity comes back.
package netcheck

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-pantera/internal/httpc"
	"github.com/teslashibe/go-pantera/internal/log"
)

// DefaultProbeURL answers 204 when the internet is reachable.
const DefaultProbeURL = "https://clients3.google.com/generate_204"

// DefaultInterval is the restore watcher polling period.
const DefaultInterval = 5 * time.Second

// Checker reports current connectivity.
type Checker interface {
	Online(ctx context.Context) bool
}

// HTTPProbe considers the network online when URL answers with a 2xx or 3xx.
type HTTPProbe struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPProbe creates a probe with the short probe timeout.
func NewHTTPProbe(url string) *HTTPProbe {
	if url == "" {
		url = DefaultProbeURL
	}
	return &HTTPProbe{URL: url, Client: httpc.NewClient(httpc.ProbeTimeout)}
}

// Online implements Checker.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = httpc.Client
	}
	code, err := httpc.Status(ctx, client, p.URL)
	if err != nil {
		log.Or(p.Logger, "netcheck").Debug("probe failed", "url", p.URL, "error", err)
		return false
	}
	return code >= 200 && code < 400
}

// Static is a settable Checker.
type Static struct {
	online atomic.Bool
}

// NewStatic creates a Static checker with the given initial state.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Online implements Checker.
func (s *Static) Online(context.Context) bool { return s.online.Load() }

// Set changes the reported state.
func (s *Static) Set(online bool) { s.online.Store(online) }

// Func adapts a function to Checker.
type Func func(ctx context.Context) bool

// Online implements Checker.
func (f Func) Online(ctx context.Context) bool { return f(ctx) }

// Watch polls c every interval and calls onRestored on each offline to
// online transition. The first poll only establishes the baseline. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, c Checker, interval time.Duration, onRestored func(context.Context)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := log.Component("netcheck")

	online := c.Online(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := c.Online(ctx)
		if now && !online {
			logger.Info("connectivity restored")
			if onRestored != nil {
				onRestored(ctx)
			}
		} else if !now && online {
			logger.Warn("connectivity lost")
		}
		online = now
	}
}
