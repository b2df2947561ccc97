package netcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"no content", http.StatusNoContent, true},
		{"ok", http.StatusOK, true},
		{"redirect", http.StatusFound, true},
		{"server error", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/login")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewHTTPProbe(srv.URL)
			if got := p.Online(context.Background()); got != tt.want {
				t.Errorf("Online() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if NewHTTPProbe(url).Online(context.Background()) {
		t.Error("closed server should be offline")
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic(false)
	if s.Online(context.Background()) {
		t.Error("expected offline")
	}
	s.Set(true)
	if !s.Online(context.Background()) {
		t.Error("expected online")
	}
}

func TestWatchFiresOnRestore(t *testing.T) {
	s := NewStatic(false)
	var restored atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, s, 10*time.Millisecond, func(context.Context) { restored.Add(1) })

	time.Sleep(30 * time.Millisecond)
	if restored.Load() != 0 {
		t.Fatal("no restore expected while offline")
	}

	s.Set(true)
	time.Sleep(50 * time.Millisecond)
	if restored.Load() != 1 {
		t.Errorf("restored = %d, want 1", restored.Load())
	}

	// Staying online does not fire again.
	time.Sleep(50 * time.Millisecond)
	if restored.Load() != 1 {
		t.Errorf("restored = %d after steady state, want 1", restored.Load())
	}
}
