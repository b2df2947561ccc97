package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

const (
	// DefaultTimeout bounds connect and write for every attempt.
	DefaultTimeout = 5 * time.Second

	// MaxDatagramSize keeps UDP payloads clear of IP fragmentation.
	MaxDatagramSize = 1024
)

// Sender performs one delivery attempt to one destination. It never
// returns an error: every failure is classified into a State.
type Sender interface {
	Send(ctx context.Context, target Target, payload []byte) State
}

// SendError is the detail behind a failed attempt, passed to OnError hooks.
type SendError struct {
	Target Target
	State  State
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("delivery %s: %s: %v", e.Target, e.State, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Classify maps an I/O error to TIMEOUT or ERROR. A nil error is CONNECTED.
func Classify(err error) State {
	if err == nil {
		return Connected
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	return Error
}

// TCPSender opens a fresh connection per attempt and writes one
// newline-terminated payload.
type TCPSender struct {
	Timeout time.Duration
	OnError func(*SendError)
}

// Send implements Sender.
func (s *TCPSender) Send(ctx context.Context, target Target, payload []byte) State {
	err := s.send(ctx, target, payload)
	state := Classify(err)
	if err != nil && s.OnError != nil {
		s.OnError(&SendError{Target: target, State: state, Err: err})
	}
	return state
}

func (s *TCPSender) send(ctx context.Context, target Target, payload []byte) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return err
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			return err
		}
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	n, err := conn.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(line))
	}
	return nil
}

// UDPSender sends one datagram per attempt. CONNECTED means the kernel
// accepted the datagram, not that a peer received it.
type UDPSender struct {
	Timeout time.Duration
	MaxSize int
	OnError func(*SendError)
}

// Send implements Sender.
func (s *UDPSender) Send(ctx context.Context, target Target, payload []byte) State {
	err := s.send(ctx, target, payload)
	state := Classify(err)
	if err != nil && s.OnError != nil {
		s.OnError(&SendError{Target: target, State: state, Err: err})
	}
	return state
}

func (s *UDPSender) send(ctx context.Context, target Target, payload []byte) error {
	max := s.MaxSize
	if max <= 0 {
		max = MaxDatagramSize
	}
	if len(payload) > max {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), max)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "udp", target.Addr())
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err = conn.Write(payload)
	return err
}
