// Package listener accepts plugin connections on a Unix socket and turns
// their traffic into events on a single bounded queue.
//
// Each connection gets its own read loop. A read loop pushes a Stream event
// first, then one Line event per line in the order read, and finally a
// Disconnect event. The queue is shared by all connections; when it is full,
// read loops block, which in turn stalls the writing peer.
//
// The listener is the only sender on the queue and closes it once Serve has
// returned and every read loop has exited. A connection handed over in a
// Stream event belongs to the consumer from then on; on shutdown the
// listener only stops reading from it, so lines still queued can be
// delivered before the consumer closes it.
package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/logger"
)

var (
	// ErrPathExists is returned by Listen when the socket path is taken.
	ErrPathExists = errors.New("socket path already exists")
	// ErrClosed is returned by Submit once the listener is shutting down.
	ErrClosed = errors.New("listener closed")
)

type options struct {
	maxLineSize int
}

// Option configures a Listener.
type Option func(*options)

// WithMaxLineSize limits the length of a single line. A client sending a
// longer line is disconnected.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}

// Listener owns the broker socket and the sending side of the event queue.
type Listener struct {
	path   string
	events chan<- Event
	opts   options

	mu      sync.Mutex
	ln      *net.UnixListener
	conns   map[uint64]net.Conn
	nextID  uint64
	closing bool
	closed  bool

	// wg counts read loops and in-flight Submit calls.
	wg sync.WaitGroup
}

// New creates a listener for path that pushes onto events. The socket is
// not bound until Listen or Serve.
func New(path string, events chan<- Event, opts ...Option) *Listener {
	o := options{maxLineSize: consts.MaxLineSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Listener{
		path:   path,
		events: events,
		opts:   o,
		conns:  make(map[uint64]net.Conn),
	}
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Listen binds the socket. It refuses to reuse an existing path.
func (l *Listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return nil
	}
	if l.closed {
		return ErrClosed
	}
	if _, err := os.Lstat(l.path); err == nil {
		return fmt.Errorf("%w: %s", ErrPathExists, l.path)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: l.path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("failed to listen on Unix socket %s: %w", l.path, err)
	}
	ln.SetUnlinkOnClose(false)
	l.ln = ln
	logger.Info("listener: bound %s", l.path)
	return nil
}

// Serve accepts connections until ctx is cancelled. On return reading has
// stopped on every connection, every read loop has finished, the socket file
// is removed and the event queue is closed. Serve returns nil on a clean
// shutdown and the bind error if the socket could not be bound.
func (l *Listener) Serve(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		l.finish()
		return err
	}

	stop := context.AfterFunc(ctx, l.beginShutdown)
	defer stop()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			logger.Warn("listener: accept: %v", err)
			continue
		}
		l.track(ctx, conn)
	}

	l.beginShutdown()
	l.finish()
	logger.Info("listener: stopped")
	return nil
}

// Submit pushes ev onto the queue on behalf of a non-connection producer.
func (l *Listener) Submit(ctx context.Context, ev Event) error {
	l.mu.Lock()
	if l.closing || l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.wg.Add(1)
	l.mu.Unlock()
	defer l.wg.Done()

	if !l.push(ctx, ev) {
		return ctx.Err()
	}
	return nil
}

func (l *Listener) track(ctx context.Context, conn net.Conn) {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		conn.Close()
		return
	}
	id := l.nextID
	l.nextID++
	l.conns[id] = conn
	l.wg.Add(1)
	l.mu.Unlock()

	logger.Debug("listener: client %d connected", id)
	go l.readLoop(ctx, id, conn)
}

func (l *Listener) untrack(id uint64) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

func (l *Listener) readLoop(ctx context.Context, id uint64, conn net.Conn) {
	defer l.wg.Done()
	defer l.untrack(id)

	if !l.push(ctx, Stream{ID: id, Conn: conn}) {
		conn.Close()
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(consts.BufferSize64KB, l.opts.maxLineSize)), l.opts.maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !l.push(ctx, Line{ID: id, Data: bytes.Clone(line)}) {
			return
		}
	}

	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		logger.Warn("listener: client %d sent a line longer than %d bytes, disconnecting", id, l.opts.maxLineSize)
		conn.Close()
	} else if err != nil && ctx.Err() == nil {
		logger.Debug("listener: client %d read: %v", id, err)
	}
	if ctx.Err() != nil {
		// Shutting down: the consumer closes the connection once it has
		// drained the queue.
		return
	}
	l.push(ctx, Disconnect{ID: id, Err: err})
}

// push blocks until the queue accepts ev or ctx is done.
func (l *Listener) push(ctx context.Context, ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// beginShutdown stops accepting and interrupts every pending read so that
// read loops return. Write sides stay open for the consumer.
func (l *Listener) beginShutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closing {
		return
	}
	l.closing = true
	if l.ln != nil {
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("listener: close: %v", err)
		}
	}
	now := time.Now()
	for id, conn := range l.conns {
		if err := conn.SetReadDeadline(now); err != nil {
			conn.Close()
		}
		logger.Debug("listener: stopped reading client %d", id)
	}
}

// finish waits for producers, removes the socket and closes the queue.
func (l *Listener) finish() {
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.closing = true
	if l.ln != nil {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			logger.Warn("listener: remove %s: %v", l.path, err)
		}
	}
	close(l.events)
}
