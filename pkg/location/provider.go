package location

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pantera/internal/log"
)

// Provider delivers raw fixes until ctx is cancelled. The returned channel
// is closed when the provider stops.
type Provider interface {
	Start(ctx context.Context) (<-chan Fix, error)
}

// LineProvider decodes newline-delimited JSON fixes from a reader, e.g. a
// GPS daemon bridge on stdin or a recorded trace. One reader goroutine owns
// r for the provider's lifetime; each Start subscribes to it, so a fix read
// while no run is active waits for the next one.
type LineProvider struct {
	r        io.Reader
	interval time.Duration
	logger   *slog.Logger

	readOnce sync.Once
	fixes    chan Fix

	mu   sync.Mutex
	held []Fix
}

// NewLineProvider creates a provider over r. A positive interval paces
// replayed fixes; zero forwards them as fast as they are read.
func NewLineProvider(r io.Reader, interval time.Duration, logger *slog.Logger) *LineProvider {
	return &LineProvider{
		r:        r,
		interval: interval,
		logger:   log.Or(logger, "location"),
		fixes:    make(chan Fix),
	}
}

// Start begins forwarding fixes until ctx is cancelled or the reader is
// exhausted. The returned channel is closed in both cases.
func (p *LineProvider) Start(ctx context.Context) (<-chan Fix, error) {
	p.readOnce.Do(func() { go p.read() })

	out := make(chan Fix)
	go p.forward(ctx, out)
	return out, nil
}

func (p *LineProvider) read() {
	defer close(p.fixes)

	scanner := bufio.NewScanner(p.r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var fix Fix
		if err := json.Unmarshal(line, &fix); err != nil {
			p.logger.Warn("discarding malformed fix", "error", err)
			continue
		}
		p.fixes <- fix
	}
	if err := scanner.Err(); err != nil {
		p.logger.Error("fix reader failed", "error", err)
	}
}

func (p *LineProvider) forward(ctx context.Context, out chan<- Fix) {
	defer close(out)

	for {
		fix, ok := p.takeHeld()
		if !ok {
			select {
			case fix, ok = <-p.fixes:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- fix:
		case <-ctx.Done():
			p.hold(fix)
			return
		}

		if p.interval > 0 {
			select {
			case <-time.After(p.interval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// hold keeps a fix taken from the reader but never delivered, for the
// next run.
func (p *LineProvider) hold(fix Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = append(p.held, fix)
}

func (p *LineProvider) takeHeld() (Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.held) == 0 {
		return Fix{}, false
	}
	fix := p.held[0]
	p.held = p.held[1:]
	return fix, true
}
