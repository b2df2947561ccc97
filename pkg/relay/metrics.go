package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes relay counters on reg. Values are read from the
// relay at scrape time.
func (r *Relay) RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pantera_relay",
			Name:      "broadcasters",
			Help:      "Registered broadcasters",
		}, func() float64 { return float64(r.BroadcasterCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pantera_relay",
			Name:      "viewers",
			Help:      "Connected viewers across all devices",
		}, func() float64 { return float64(r.ViewerCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pantera_relay",
			Name:      "messages_received_total",
			Help:      "Signaling frames read from any peer",
		}, func() float64 { return float64(r.received.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pantera_relay",
			Name:      "messages_forwarded_total",
			Help:      "Signaling frames delivered to another peer",
		}, func() float64 { return float64(r.forwarded.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pantera_relay",
			Name:      "messages_dropped_total",
			Help:      "Signaling frames dropped as unroutable or malformed",
		}, func() float64 { return float64(r.dropped.Load()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
