package netkit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// FrameHeaderSize is the size in bytes of the big-endian length prefix.
const FrameHeaderSize = 4

// ErrMaxLenExceeded indicates the payload length exceeds the frame header range.
var ErrMaxLenExceeded = errors.New("maximum frame length exceeded")

// ErrFrameTimeout indicates no frame became readable within the deadline.
var ErrFrameTimeout = errors.New("timeout waiting for frame")

// MaxFrameLen caps the payload length ReadFrame will accept from a peer's
// header, bounding the allocation a hostile or corrupt header can force.
// Callers needing larger frames may raise it before reading.
var MaxFrameLen uint32 = 16 << 20

// WriteFrame sends payload prefixed with a 4-byte big-endian length header.
// The header and body are written as two full sends; an empty payload
// produces a header-only frame.
func WriteFrame(s *DuplexStream, payload []byte) error {
	maxLen := uint64(1<<(8*FrameHeaderSize)) - 1
	if uint64(len(payload)) > maxLen {
		return ErrMaxLenExceeded
	}

	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := s.SendAll(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}

	if len(payload) == 0 {
		return nil
	}

	if _, err := s.SendAll(payload); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}

	return nil
}

// ReadFrame receives one length-prefixed frame. It first waits for the
// stream to become readable so the caller can bound latency; a negative
// timeout blocks indefinitely. A short read, timeout, or peer close at any
// stage fails the whole call, never yielding a partial frame. A header
// announcing more than MaxFrameLen bytes fails with ErrMaxLenExceeded
// before anything is allocated for the body.
func ReadFrame(s *DuplexStream, timeout time.Duration) ([]byte, error) {
	ready, err := s.WaitReadable(timeout)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if !ready {
		return nil, ErrFrameTimeout
	}

	var header [FrameHeaderSize]byte
	if _, err := s.RecvExact(header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameLen {
		return nil, fmt.Errorf("read frame: %d byte payload: %w", length, ErrMaxLenExceeded)
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := s.RecvExact(payload); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	return payload, nil
}
