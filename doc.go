// Package netkit provides a concurrent TCP connection-dispatch engine: a
// raw duplex byte-stream abstraction, a resizable worker pool, and framed
// client/server messaging built on them.
//
// Features:
//   - DuplexStream: one owned bidirectional TCP connection with exact-length
//     SendAll/RecvExact, poll-based readiness waits, socket-level timeouts,
//     and idempotent Close/Shutdown usable from another goroutine to unblock
//     a blocked Accept or Recv.
//   - WorkerPool: background workers over one shared FIFO task queue, with
//     dynamic Grow/Shrink and future-style TaskHandle result retrieval.
//   - Frame codec: WriteFrame and ReadFrame implement a 4-byte big-endian
//     length prefix; empty payloads produce header-only frames.
//   - Client: a DuplexStream plus the frame protocol for callers that do not
//     need the server machinery.
//
// The server subpackage accepts connections on a dedicated goroutine,
// registers each under a unique client id, and runs per-connection read
// loops on the worker pool.
//
// Basic client example:
//
//	c := netkit.NewClient(nil)
//	if err := c.Connect("127.0.0.1", 9000, 2*time.Second); err != nil {
//	    // handle error
//	}
//	defer c.Close()
//	_ = c.SendFrame([]byte("hello"))
//	resp, err := c.RecvFrame(2 * time.Second)
//	if err != nil {
//	    // handle error
//	}
//
// Basic server example:
//
//	srv, _ := server.NewServer(server.HandlerFuncs{
//	    OnMessage: func(id uint64, stream *netkit.DuplexStream, data []byte) {
//	        _, _ = stream.SendAll(data)
//	    },
//	}, nil)
//	_ = srv.Bind(9000)
//	_ = srv.Listen(0)
//	_ = srv.Start(4)
//	defer srv.Stop()
package netkit
