// Package transport provides connections that carry gateway frames.
//
// A Channel is a reliable ordered stream of frames between the client and the
// gateway. The production implementation runs over a WebSocket (see Dial);
// Pipe constructs connected in-memory pairs for tests.
package transport

import (
	"net"

	"github.com/driftlabs/pylon/wire"
)

// A Channel is an ordered stream of frames exchanged with the gateway.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the frame to the remote endpoint.
	Send(*wire.Frame) error

	// Receive the next available frame from the channel.
	Recv() (*wire.Frame, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// Kill terminates ch as abruptly as the implementation permits, without a
// closing handshake. Resuming after an invalid session requires the server to
// observe a dirty disconnect rather than a clean close. Implementations that
// do not distinguish the two fall back to Close.
func Kill(ch Channel) error {
	if k, ok := ch.(interface{ Kill() error }); ok {
		return k.Kill()
	}
	return ch.Close()
}

// Pipe constructs a connected pair of in-memory channels that pass frames
// directly. Frames sent to A are received by B and vice versa. Closing
// either end unblocks both that end's reader and the peer's.
func Pipe() (A, B Channel) {
	a2b := make(chan *wire.Frame)
	b2a := make(chan *wire.Frame)
	A = &pipe{send: a2b, recv: b2a, halt: make(chan struct{})}
	B = &pipe{send: b2a, recv: a2b, halt: make(chan struct{})}
	return
}

type pipe struct {
	send chan<- *wire.Frame
	recv <-chan *wire.Frame
	halt chan struct{} // closed when this end shuts down
}

// Send implements a method of the [Channel] interface.
func (p *pipe) Send(f *wire.Frame) (err error) {
	defer safeClose(&err)
	select {
	case p.send <- f:
		return nil
	case <-p.halt:
		return net.ErrClosed
	}
}

// Recv implements a method of the [Channel] interface.
func (p *pipe) Recv() (*wire.Frame, error) {
	select {
	case f, ok := <-p.recv:
		if !ok {
			return nil, net.ErrClosed
		}
		return f, nil
	case <-p.halt:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [Channel] interface.
func (p *pipe) Close() (err error) {
	defer safeClose(&err)
	close(p.halt)
	close(p.send)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}
