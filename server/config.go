package server

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBacklog          = 16                     // default listen backlog.
	DefaultWorkerCount      = 4                      // default pool worker count.
	DefaultReadBufferSize   = 4 * 1024               // default per-connection read buffer.
	DefaultAcceptRetryDelay = 100 * time.Millisecond // pause after a transient accept failure.
)

// Config holds server options applied at construction.
type Config struct {
	Backlog          int             // listen backlog; 0 means DefaultBacklog.
	WorkerCount      int             // pool workers when Start is given 0.
	ReadBufferSize   int             // per-connection read buffer size.
	AcceptRetryDelay time.Duration   // delay before re-checking after accept failure.
	Logger           *zerolog.Logger // optional logger for server events.
}

func (c *Config) applyDefaults() {
	if c.Backlog == 0 {
		c.Backlog = DefaultBacklog
	}

	if c.WorkerCount == 0 {
		c.WorkerCount = DefaultWorkerCount
	}

	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}

	if c.AcceptRetryDelay == 0 {
		c.AcceptRetryDelay = DefaultAcceptRetryDelay
	}
}
