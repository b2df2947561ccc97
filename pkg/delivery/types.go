// Package delivery fans a location payload out to every configured tracking
// server over TCP and UDP and keeps a ledger of per-destination state.
package delivery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport selects how a payload reaches a destination.
type Transport int

const (
	TCP Transport = iota
	UDP
)

// String returns the transport name in upper case.
func (t Transport) String() string {
	switch t {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	default:
		return "UNKNOWN"
	}
}

// Network returns the net package network name.
func (t Transport) Network() string {
	return strings.ToLower(t.String())
}

// ParseTransport accepts "tcp"/"udp" in any case.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToUpper(s) {
	case "TCP":
		return TCP, nil
	case "UDP":
		return UDP, nil
	}
	return 0, fmt.Errorf("delivery: unknown transport %q", s)
}

// Target is one destination. Targets are static configuration.
type Target struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Transport Transport `json:"transport"`
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns e.g. "TCP 10.0.0.1:5000".
func (t Target) String() string {
	return t.Transport.String() + " " + t.Addr()
}

// Targets expands hosts into one TCP and one UDP destination per host,
// in host order with TCP first.
func Targets(hosts []string, tcpPort, udpPort int) []Target {
	out := make([]Target, 0, len(hosts)*2)
	for _, h := range hosts {
		out = append(out,
			Target{Host: h, Port: tcpPort, Transport: TCP},
			Target{Host: h, Port: udpPort, Transport: UDP},
		)
	}
	return out
}

// State is the outcome of the most recent attempt against one destination.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
	Timeout
)

var stateNames = map[State]string{
	Disconnected: "DISCONNECTED",
	Connecting:   "CONNECTING",
	Connected:    "CONNECTED",
	Error:        "ERROR",
	Timeout:      "TIMEOUT",
}

// String returns the upper-case state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// MarshalText encodes the state by name for JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for k, n := range stateNames {
		if n == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("delivery: unknown state %q", b)
}

// Failed reports whether the state is a terminal failure (ERROR or TIMEOUT).
func (s State) Failed() bool {
	return s == Error || s == Timeout
}

// MarshalText encodes the transport by name.
func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a transport name.
func (t *Transport) UnmarshalText(b []byte) error {
	v, err := ParseTransport(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
