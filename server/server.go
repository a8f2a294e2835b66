package server

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenixJK/netkit"
)

// ErrNotListening indicates Start was called before Listen.
var ErrNotListening = errors.New("server is not listening")

// Server accepts TCP connections on a dedicated goroutine, assigns each an
// identifier unique for the server's lifetime, and dispatches per-connection
// read loops onto a worker pool. The connection registry has its own lock,
// which is never held across blocking I/O: SendTo and Broadcast copy stream
// handles out under the lock and send outside it, so one slow peer cannot
// stall connect/disconnect bookkeeping for the others.
type Server struct {
	listener   *netkit.DuplexStream
	config     *Config
	handler    Handler
	pool       *netkit.WorkerPool
	logger     zerolog.Logger
	nextID     atomic.Uint64 // monotonically increasing, never reused.
	mu         sync.Mutex    // guards conns.
	conns      map[uint64]*netkit.DuplexStream
	started    atomic.Bool
	running    atomic.Bool
	acceptDone chan struct{}
}

// NewServer creates a server delivering events to handler.
func NewServer(handler Handler, config *Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Server{
		listener: netkit.NewStream(),
		config:   config,
		handler:  handler,
		logger:   logger,
		conns:    make(map[uint64]*netkit.DuplexStream),
	}, nil
}

// Bind binds the listener to port. Port 0 selects an ephemeral port.
func (s *Server) Bind(port int) error {
	return s.listener.Bind(port)
}

// Listen starts listening. A backlog of 0 uses the configured default, and
// an unbound listener is implicitly bound to an ephemeral port.
func (s *Server) Listen(backlog int) error {
	if backlog == 0 {
		backlog = s.config.Backlog
	}

	return s.listener.Listen(backlog)
}

// Port returns the listener's bound port.
func (s *Server) Port() uint16 {
	return s.listener.Port()
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Count returns the number of currently registered connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// Start spawns the worker pool and the accept goroutine. It runs exactly
// once; subsequent calls are no-ops. A workerCount of 0 uses the configured
// default.
func (s *Server) Start(workerCount int) error {
	if s.listener.State() != netkit.StateListening {
		return ErrNotListening
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	if workerCount <= 0 {
		workerCount = s.config.WorkerCount
	}

	s.pool = netkit.NewWorkerPool(workerCount, s.config.Logger)
	s.acceptDone = make(chan struct{})
	s.running.Store(true)

	go s.acceptLoop()

	s.logger.Info().
		Uint16("port", s.Port()).
		Int("workers", workerCount).
		Msg("server started")

	return nil
}

// Stop closes the listener, joins the accept goroutine, force-closes every
// registered connection and tears down the worker pool. Idempotent;
// in-flight read loops exit on their next failed receive.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.listener.Shutdown()
	if err := s.listener.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("listener close failed")
	}
	<-s.acceptDone

	s.mu.Lock()
	conns := make(map[uint64]*netkit.DuplexStream, len(s.conns))
	for id, stream := range s.conns {
		conns[id] = stream
	}
	s.conns = make(map[uint64]*netkit.DuplexStream)
	s.mu.Unlock()

	for _, stream := range conns {
		stream.Shutdown()
	}

	s.pool.Close()

	// Read loops that executed released their streams on exit. A stream
	// still holding a descriptor belongs to a connection whose read loop
	// was still queued when the pool stopped; finish its teardown here so
	// the descriptor is released and the disconnect callback still fires.
	for id, stream := range conns {
		if !stream.Valid() {
			continue
		}
		s.handler.HandleDisconnect(id)
		if err := stream.Close(); err != nil {
			s.logger.Warn().Err(err).Uint64("client", id).Msg("close failed")
		}
		s.logger.Info().Uint64("client", id).Msg("client disconnected")
	}

	s.logger.Info().Msg("server stopped")
}

// SendTo sends data to one registered connection, outside the registry lock.
// It returns false when the id is absent or the send fails.
func (s *Server) SendTo(id uint64, data []byte) bool {
	s.mu.Lock()
	stream, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if _, err := stream.SendAll(data); err != nil {
		s.logger.Warn().Err(err).Uint64("client", id).Msg("send failed")
		return false
	}

	return true
}

// Broadcast sends data to a snapshot of all registered connections,
// tolerating individual failures, and returns the number of successful
// sends. A send racing a disconnect counts as a failure, never a crash.
func (s *Server) Broadcast(data []byte) int {
	s.mu.Lock()
	streams := make([]*netkit.DuplexStream, 0, len(s.conns))
	for _, stream := range s.conns {
		streams = append(streams, stream)
	}
	s.mu.Unlock()

	sent := 0
	for _, stream := range streams {
		if _, err := stream.SendAll(data); err != nil {
			continue
		}
		sent++
	}

	return sent
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for s.running.Load() {
		peer, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, netkit.ErrStreamClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			time.Sleep(s.config.AcceptRetryDelay)

			continue
		}

		id := s.nextID.Add(1)
		s.mu.Lock()
		s.conns[id] = peer
		s.mu.Unlock()

		s.logger.Info().
			Uint64("client", id).
			Str("remote", peer.RemoteAddr()).
			Msg("client connected")

		s.handler.HandleConnect(id, peer)

		if _, err := s.pool.Submit(func() (any, error) {
			s.readLoop(id, peer)
			return nil, nil
		}); err != nil {
			s.logger.Warn().Err(err).Uint64("client", id).Msg("dispatch failed")
			s.removeConnection(id)
			peer.Shutdown()
			_ = peer.Close()
		}
	}
}

// readLoop runs on a pool worker until the peer closes or errors.
func (s *Server) readLoop(id uint64, stream *netkit.DuplexStream) {
	buf := netkit.GetBuffer(s.config.ReadBufferSize)
	defer func() {
		netkit.PutBuffer(buf)
		s.handler.HandleDisconnect(id)
		s.removeConnection(id)
		if err := stream.Close(); err != nil {
			s.logger.Warn().Err(err).Uint64("client", id).Msg("close failed")
		}
		s.logger.Info().Uint64("client", id).Msg("client disconnected")
	}()

	for {
		n, err := stream.Recv(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug().Uint64("client", id).Msg("peer closed")
			} else {
				s.logger.Warn().Err(err).Uint64("client", id).Msg("receive failed")
			}

			return
		}

		s.handler.HandleMessage(id, stream, buf[:n])
	}
}

func (s *Server) removeConnection(id uint64) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}
