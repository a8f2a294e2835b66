package netkit

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ErrStreamClosed indicates an operation on a closed stream.
var ErrStreamClosed = errors.New("stream is closed")

// StreamState describes the lifecycle position of a DuplexStream.
type StreamState int32

const (
	StateUnbound StreamState = iota
	StateBound
	StateListening
	StateConnected
	StateClosed
)

// String returns the state name.
func (st StreamState) String() string {
	switch st {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DuplexStream is an owned handle to one bidirectional TCP byte stream,
// either a listener, a dialed connection, or an accepted peer. The
// descriptor is released exactly once; Close and Shutdown are idempotent
// and safe to call from a goroutine other than the one blocked in Accept
// or Recv, which is the designed way to unblock those calls.
type DuplexStream struct {
	mu    sync.Mutex   // guards descriptor creation and release.
	fd    atomic.Int32 // underlying descriptor, -1 when absent.
	state atomic.Int32
}

// NewStream returns a stream with no underlying socket yet. The socket is
// created lazily by Bind, Listen or Connect.
func NewStream() *DuplexStream {
	s := &DuplexStream{}
	s.fd.Store(-1)

	return s
}

// newConnectedStream wraps an already-connected descriptor, as produced by Accept.
func newConnectedStream(fd int) *DuplexStream {
	s := &DuplexStream{}
	s.fd.Store(int32(fd))
	s.state.Store(int32(StateConnected))

	return s
}

// State reports the current lifecycle state.
func (s *DuplexStream) State() StreamState {
	return StreamState(s.state.Load())
}

// Valid reports whether the stream still owns a descriptor.
func (s *DuplexStream) Valid() bool {
	return s.fd.Load() >= 0
}

// ensureSocket creates the descriptor if none exists. Caller holds mu.
func (s *DuplexStream) ensureSocket() error {
	if s.fd.Load() >= 0 {
		return nil
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("create socket: %w", err)
	}

	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	s.fd.Store(int32(fd))
	s.state.Store(int32(StateUnbound))

	return nil
}

// Bind binds the stream to a local IPv4 port. Port 0 selects an ephemeral port.
func (s *DuplexStream) Bind(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSocket(); err != nil {
		return err
	}

	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(int(s.fd.Load()), sa); err != nil {
		return fmt.Errorf("bind port %d: %w", port, err)
	}

	s.state.Store(int32(StateBound))

	return nil
}

// Listen starts listening with the given backlog. If the stream was never
// bound, an ephemeral port is bound implicitly.
func (s *DuplexStream) Listen(backlog int) error {
	if s.State() < StateBound {
		if err := s.Bind(0); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fd := s.fd.Load()
	if fd < 0 {
		return ErrStreamClosed
	}

	if err := unix.Listen(int(fd), backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.state.Store(int32(StateListening))

	return nil
}

// Accept blocks until a peer connects and returns the accepted stream.
// Closing or shutting down the listener from another goroutine makes the
// blocked call return ErrStreamClosed or the underlying accept error.
func (s *DuplexStream) Accept() (*DuplexStream, error) {
	fd := s.fd.Load()
	if fd < 0 {
		return nil, ErrStreamClosed
	}

	for {
		nfd, _, err := unix.Accept(int(fd))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if s.fd.Load() < 0 {
				return nil, ErrStreamClosed
			}

			return nil, fmt.Errorf("accept: %w", err)
		}

		return newConnectedStream(nfd), nil
	}
}

// Connect resolves host as IPv4 and connects. A positive timeout is applied
// as the socket send/receive timeout before the connect is issued, so it
// bounds the connect itself and every subsequent blocking call.
func (s *DuplexStream) Connect(host string, port int, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSocket(); err != nil {
		return err
	}

	addr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}

	ip4 := addr.IP.To4()
	if ip4 == nil {
		return fmt.Errorf("resolve %s: no IPv4 address", host)
	}

	if timeout > 0 {
		if err := s.setTimeoutsLocked(timeout); err != nil {
			return err
		}
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip4)

	if err := unix.Connect(int(s.fd.Load()), sa); err != nil {
		return fmt.Errorf("connect %s:%d: %w", host, port, err)
	}

	s.state.Store(int32(StateConnected))

	return nil
}

// SetTimeouts applies d as both the send and receive timeout on the socket.
func (s *DuplexStream) SetTimeouts(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setTimeoutsLocked(d)
}

func (s *DuplexStream) setTimeoutsLocked(d time.Duration) error {
	fd := s.fd.Load()
	if fd < 0 {
		return ErrStreamClosed
	}

	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("set receive timeout: %w", err)
	}
	if err := unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		return fmt.Errorf("set send timeout: %w", err)
	}

	return nil
}

// Send writes at most len(p) bytes, retrying interrupted calls. It returns
// the number of bytes written by the single underlying call.
func (s *DuplexStream) Send(p []byte) (int, error) {
	fd := s.fd.Load()
	if fd < 0 {
		return 0, ErrStreamClosed
	}

	for {
		n, err := unix.Write(int(fd), p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("send: %w", err)
		}

		return n, nil
	}
}

// SendAll writes all of p, looping over partial writes. The returned count
// is less than len(p) only together with a non-nil error.
func (s *DuplexStream) SendAll(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.Send(p[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		total += n
	}

	return total, nil
}

// Recv reads at most len(p) bytes, retrying interrupted calls. An orderly
// peer close is reported as (0, io.EOF), distinct from transport errors.
func (s *DuplexStream) Recv(p []byte) (int, error) {
	fd := s.fd.Load()
	if fd < 0 {
		return 0, ErrStreamClosed
	}

	for {
		n, err := unix.Read(int(fd), p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("recv: %w", err)
		}
		if n == 0 {
			return 0, io.EOF
		}

		return n, nil
	}
}

// RecvExact reads exactly len(p) bytes. A peer close before the buffer is
// full returns the bytes read so far together with io.EOF.
func (s *DuplexStream) RecvExact(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.Recv(p[total:])
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

// WaitReadable polls until the stream has data to read or the timeout
// elapses. A negative timeout blocks indefinitely.
func (s *DuplexStream) WaitReadable(timeout time.Duration) (bool, error) {
	return s.poll(unix.POLLIN, timeout)
}

// WaitWritable polls until the stream can accept writes or the timeout
// elapses. A negative timeout blocks indefinitely.
func (s *DuplexStream) WaitWritable(timeout time.Duration) (bool, error) {
	return s.poll(unix.POLLOUT, timeout)
}

func (s *DuplexStream) poll(events int16, timeout time.Duration) (bool, error) {
	fd := s.fd.Load()
	if fd < 0 {
		return false, ErrStreamClosed
	}

	// Round sub-millisecond timeouts up so a short positive wait still
	// blocks instead of degrading into a non-blocking poll.
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	fds := []unix.PollFd{{Fd: fd, Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}

		return n > 0, nil
	}
}

// Port returns the locally bound port, or 0 when unavailable.
func (s *DuplexStream) Port() uint16 {
	fd := s.fd.Load()
	if fd < 0 {
		return 0
	}

	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return 0
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return uint16(in4.Port)
	}

	return 0
}

// RemoteAddr returns the peer address as host:port, or "" when unavailable.
func (s *DuplexStream) RemoteAddr() string {
	fd := s.fd.Load()
	if fd < 0 {
		return ""
	}

	sa, err := unix.Getpeername(int(fd))
	if err != nil {
		return ""
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := net.IP(in4.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(in4.Port))
	}

	return ""
}

// Shutdown half/fully closes the duplex channel without releasing the
// descriptor, unblocking a peer's or this process's blocked read. Idempotent.
func (s *DuplexStream) Shutdown() {
	fd := s.fd.Load()
	if fd < 0 {
		return
	}

	_ = unix.Shutdown(int(fd), unix.SHUT_RDWR)
}

// Close releases the descriptor. It is safe to call multiple times and
// after Shutdown.
func (s *DuplexStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd := s.fd.Swap(-1)
	s.state.Store(int32(StateClosed))
	if fd < 0 {
		return nil
	}

	if err := unix.Close(int(fd)); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}
