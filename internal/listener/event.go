package listener

import "net"

// Event is one entry of the broker's event queue. The concrete types are
// Stream, Line, Disconnect and Query.
type Event interface {
	event()
}

// Stream announces a new connection. It is always the first event pushed
// for its client id.
type Stream struct {
	ID   uint64
	Conn net.Conn
}

// Line carries one line read from a client, without the line terminator.
// Data is owned by the receiver.
type Line struct {
	ID   uint64
	Data []byte
}

// Disconnect is pushed when a client's read loop ends. Err is nil for a
// clean EOF.
type Disconnect struct {
	ID  uint64
	Err error
}

// Query asks the consumer to call Do on its own goroutine, in queue order.
type Query struct {
	Do func()
}

func (Stream) event()     {}
func (Line) event()       {}
func (Disconnect) event() {}
func (Query) event()      {}
