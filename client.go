package netkit

import (
	"time"

	"github.com/rs/zerolog"
)

// Client connects one DuplexStream to a remote endpoint and layers the
// length-prefixed frame protocol on top of the raw stream.
type Client struct {
	stream *DuplexStream
	logger zerolog.Logger
}

// NewClient creates a disconnected client. A nil logger disables logging.
func NewClient(logger *zerolog.Logger) *Client {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	return &Client{
		stream: NewStream(),
		logger: l,
	}
}

// Connect dials host:port. A positive timeout bounds the connect and is
// applied as the stream's read/write timeout.
func (c *Client) Connect(host string, port int, timeout time.Duration) error {
	if err := c.stream.Connect(host, port, timeout); err != nil {
		c.logger.Error().Err(err).Str("host", host).Int("port", port).Msg("connect failed")
		return err
	}

	c.logger.Info().Str("remote", c.stream.RemoteAddr()).Msg("connected")

	return nil
}

// Connected reports whether the client still owns a live stream.
func (c *Client) Connected() bool {
	return c.stream.Valid() && c.stream.State() == StateConnected
}

// Stream exposes the underlying stream for raw operations.
func (c *Client) Stream() *DuplexStream {
	return c.stream
}

// Send writes at most len(p) bytes.
func (c *Client) Send(p []byte) (int, error) {
	return c.stream.Send(p)
}

// SendAll writes all of p or fails.
func (c *Client) SendAll(p []byte) (int, error) {
	return c.stream.SendAll(p)
}

// Recv reads at most len(p) bytes.
func (c *Client) Recv(p []byte) (int, error) {
	return c.stream.Recv(p)
}

// RecvExact reads exactly len(p) bytes or fails.
func (c *Client) RecvExact(p []byte) (int, error) {
	return c.stream.RecvExact(p)
}

// SendFrame sends payload as one length-prefixed frame.
func (c *Client) SendFrame(payload []byte) error {
	return WriteFrame(c.stream, payload)
}

// RecvFrame receives one length-prefixed frame, waiting at most timeout for
// the stream to become readable. A negative timeout blocks indefinitely.
func (c *Client) RecvFrame(timeout time.Duration) ([]byte, error) {
	return ReadFrame(c.stream, timeout)
}

// Close releases the underlying stream. Idempotent.
func (c *Client) Close() {
	if err := c.stream.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("close failed")
	}
}
