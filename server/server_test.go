package server_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fenixJK/netkit"
	"github.com/fenixJK/netkit/server"
)

// startServer binds an ephemeral port, starts the server and registers
// cleanup. It returns the server and its port.
func startServer(t *testing.T, handler server.Handler, workers int) (*server.Server, int) {
	t.Helper()

	srv, err := server.NewServer(handler, nil)
	require.NoError(t, err)

	require.NoError(t, srv.Bind(0))
	require.NoError(t, srv.Listen(0))
	require.NoError(t, srv.Start(workers))
	t.Cleanup(srv.Stop)

	return srv, int(srv.Port())
}

func dial(t *testing.T, port int) *netkit.Client {
	t.Helper()

	c := netkit.NewClient(nil)
	require.NoError(t, c.Connect("127.0.0.1", port, 2*time.Second))
	t.Cleanup(c.Close)

	return c
}

func TestServerPingPong(t *testing.T) {
	t.Parallel()

	_, port := startServer(t, server.HandlerFuncs{
		OnMessage: func(_ uint64, stream *netkit.DuplexStream, data []byte) {
			if string(data) == "ping" {
				_, _ = stream.SendAll([]byte("pong"))
			}
		},
	}, 2)

	c := dial(t, port)

	_, err := c.SendAll([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := c.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf[:n]))
}

func TestServerConnectDisconnectCallbacks(t *testing.T) {
	t.Parallel()

	var (
		mu           sync.Mutex
		connected    []uint64
		disconnected []uint64
	)

	srv, port := startServer(t, server.HandlerFuncs{
		OnConnect: func(id uint64, _ *netkit.DuplexStream) {
			mu.Lock()
			connected = append(connected, id)
			mu.Unlock()
		},
		OnDisconnect: func(id uint64) {
			mu.Lock()
			disconnected = append(disconnected, id)
			mu.Unlock()
		},
	}, 2)

	c := dial(t, port)

	require.Eventually(t, func() bool {
		return srv.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, connected, disconnected)
	require.Zero(t, srv.Count())
}

func TestServerClientIDsStrictlyIncrease(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		ids []uint64
	)

	_, port := startServer(t, server.HandlerFuncs{
		OnConnect: func(id uint64, _ *netkit.DuplexStream) {
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		},
	}, 2)

	for i := 0; i < 5; i++ {
		c := dial(t, port)
		c.Close()
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 5
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1])
	}
}

func TestServerBroadcast(t *testing.T) {
	t.Parallel()

	srv, port := startServer(t, server.HandlerFuncs{}, 4)

	first := dial(t, port)
	second := dial(t, port)

	require.Eventually(t, func() bool {
		return srv.Count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 2, srv.Broadcast([]byte("hi")))

	for _, c := range []*netkit.Client{first, second} {
		buf := make([]byte, 2)
		_, err := c.RecvExact(buf)
		require.NoError(t, err)
		require.Equal(t, "hi", string(buf))
	}

	second.Close()

	require.Eventually(t, func() bool {
		return srv.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, srv.Broadcast([]byte("hi")))
}

func TestServerSendTo(t *testing.T) {
	t.Parallel()

	var (
		mu sync.Mutex
		id uint64
	)

	srv, port := startServer(t, server.HandlerFuncs{
		OnConnect: func(connID uint64, _ *netkit.DuplexStream) {
			mu.Lock()
			id = connID
			mu.Unlock()
		},
	}, 2)

	c := dial(t, port)

	require.Eventually(t, func() bool {
		return srv.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	clientID := id
	mu.Unlock()

	require.True(t, srv.SendTo(clientID, []byte("direct")))

	buf := make([]byte, 6)
	_, err := c.RecvExact(buf)
	require.NoError(t, err)
	require.Equal(t, "direct", string(buf))

	require.False(t, srv.SendTo(clientID+1000, []byte("nobody")))
}

func TestServerStartExactlyOnce(t *testing.T) {
	t.Parallel()

	srv, err := server.NewServer(server.HandlerFuncs{}, nil)
	require.NoError(t, err)

	require.ErrorIs(t, srv.Start(2), server.ErrNotListening)

	require.NoError(t, srv.Listen(0))
	require.NoError(t, srv.Start(2))
	require.NoError(t, srv.Start(2)) // no-op
	require.True(t, srv.IsRunning())

	srv.Stop()
	require.False(t, srv.IsRunning())
}

func TestServerStopIdempotentAndBounded(t *testing.T) {
	t.Parallel()

	srv, port := startServer(t, server.HandlerFuncs{}, 2)

	// Leave a connection with an active read loop and the accept loop
	// blocked, then stop.
	dial(t, port)
	require.Eventually(t, func() bool {
		return srv.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not complete in bounded time")
	}

	require.Zero(t, srv.Count())
}

func TestServerStopReleasesQueuedConnections(t *testing.T) {
	t.Parallel()

	var (
		mu           sync.Mutex
		streams      = make(map[uint64]*netkit.DuplexStream)
		disconnected []uint64
	)

	srv, port := startServer(t, server.HandlerFuncs{
		OnConnect: func(id uint64, stream *netkit.DuplexStream) {
			mu.Lock()
			streams[id] = stream
			mu.Unlock()
		},
		OnDisconnect: func(id uint64) {
			mu.Lock()
			disconnected = append(disconnected, id)
			mu.Unlock()
		},
	}, 1)

	// With a single worker the first connection's read loop occupies it,
	// leaving the second connection's read loop queued.
	dial(t, port)
	dial(t, port)

	require.Eventually(t, func() bool {
		return srv.Count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	srv.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, streams, 2)
	require.Len(t, disconnected, 2)

	seen := make(map[uint64]bool)
	for _, id := range disconnected {
		require.Falsef(t, seen[id], "client %d disconnected twice", id)
		seen[id] = true
	}
	for id, stream := range streams {
		require.Falsef(t, stream.Valid(), "stream %d still owns a descriptor after stop", id)
	}
}

func TestServerConcurrentEcho(t *testing.T) {
	t.Parallel()

	_, port := startServer(t, server.HandlerFuncs{
		OnMessage: func(_ uint64, stream *netkit.DuplexStream, data []byte) {
			_, _ = stream.SendAll(data)
		},
	}, 4)

	eg := errgroup.Group{}
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			c := netkit.NewClient(nil)
			if err := c.Connect("127.0.0.1", port, 2*time.Second); err != nil {
				return err
			}
			defer c.Close()

			for j := 0; j < 50; j++ {
				if err := c.SendFrame([]byte("echo me")); err != nil {
					return err
				}
				if _, err := c.RecvFrame(2 * time.Second); err != nil {
					return err
				}
			}

			return nil
		})
	}

	require.NoError(t, eg.Wait())
}

func TestServerNilHandlerRejected(t *testing.T) {
	t.Parallel()

	_, err := server.NewServer(nil, nil)
	require.Error(t, err)
}
