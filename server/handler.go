package server

import (
	"github.com/fenixJK/netkit"
)

// Handler receives connection lifecycle and message events. HandleConnect
// runs synchronously on the accept goroutine and HandleMessage on a pool
// worker, so both must be fast and must not block on I/O they do not own.
// The data slice passed to HandleMessage aliases the connection's pooled
// read buffer and is only valid for the duration of the call; handlers
// that retain it must copy it first.
type Handler interface {
	HandleConnect(id uint64, stream *netkit.DuplexStream)
	HandleMessage(id uint64, stream *netkit.DuplexStream, data []byte)
	HandleDisconnect(id uint64)
}

// HandlerFuncs adapts independently settable closures to the Handler
// interface. Nil closures are ignored.
type HandlerFuncs struct {
	OnConnect    func(id uint64, stream *netkit.DuplexStream)
	OnMessage    func(id uint64, stream *netkit.DuplexStream, data []byte)
	OnDisconnect func(id uint64)
}

// HandleConnect calls OnConnect when set.
func (h HandlerFuncs) HandleConnect(id uint64, stream *netkit.DuplexStream) {
	if h.OnConnect != nil {
		h.OnConnect(id, stream)
	}
}

// HandleMessage calls OnMessage when set.
func (h HandlerFuncs) HandleMessage(id uint64, stream *netkit.DuplexStream, data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(id, stream, data)
	}
}

// HandleDisconnect calls OnDisconnect when set.
func (h HandlerFuncs) HandleDisconnect(id uint64) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(id)
	}
}
