package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-pantera/pkg/delivery"
	"github.com/teslashibe/go-pantera/pkg/protocol"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestDeliveryObserver(t *testing.T) {
	m := New()
	var _ delivery.Observer = m

	tcp := delivery.Target{Host: "10.0.0.1", Port: 5000, Transport: delivery.TCP}
	udp := delivery.Target{Host: "10.0.0.1", Port: 5001, Transport: delivery.UDP}
	m.ObserveSend(tcp, delivery.Connected, 20*time.Millisecond)
	m.ObserveSend(udp, delivery.Timeout, time.Second)
	m.ObserveRound(true, false)
	m.ObserveRound(false, false)
	m.ObserveRound(false, true)
	m.ObserveRound(false, true)

	body := scrape(t, m, nil)
	for _, want := range []string{
		`pantera_sends_total{state="CONNECTED",transport="TCP"} 1`,
		`pantera_sends_total{state="TIMEOUT",transport="UDP"} 1`,
		`pantera_rounds_total{result="success"} 1`,
		`pantera_rounds_total{result="failed"} 1`,
		`pantera_rounds_total{result="skipped"} 2`,
		`pantera_send_duration_seconds_count{transport="TCP"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestGaugesAndCounters(t *testing.T) {
	m := New()
	m.IncEvictions()
	m.IncDrained()
	m.IncDrained()
	m.SetSessions(3)
	m.IncSignaling(protocol.TypeViewerJoined)

	depth := 0
	body := scrape(t, m, func() { depth = 7; m.SetQueueDepth(depth) })

	for _, want := range []string{
		"pantera_retry_queue_depth 7",
		"pantera_retry_queue_evictions_total 1",
		"pantera_retry_queue_drained_total 2",
		"pantera_viewer_sessions 3",
		`pantera_signaling_messages_total{type="viewer-joined"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	m := New()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(m.Middleware())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	for _, path := range []string{"/ok", "/ok", "/missing"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		io.Copy(io.Discard, resp.Body)
	}

	body := scrape(t, m, nil)
	if !strings.Contains(body, "pantera_http_requests_total 3") {
		t.Error("expected 3 requests counted")
	}
	if !strings.Contains(body, "pantera_http_errors_total 1") {
		t.Error("expected 1 error counted")
	}
}
