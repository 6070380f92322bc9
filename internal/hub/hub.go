// Package hub routes envelopes between connected plugins.
//
// The Hub consumes the listener's event queue on a single goroutine and is
// the only owner of the client registry, so none of its state is locked.
// Every line is parsed once; a valid envelope is written to every other
// client whose kind filter matches. The sender never receives its own line.
package hub

import (
	"bufio"
	"context"
	"net"
	"sort"
	"time"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/envelope"
	"github.com/codefionn/cylonn/internal/glob"
	"github.com/codefionn/cylonn/internal/listener"
	"github.com/codefionn/cylonn/internal/logger"
)

// Submitter places events on the queue the Hub consumes.
type Submitter interface {
	Submit(ctx context.Context, ev listener.Event) error
}

// ClientInfo is a snapshot of one connected client. Dropped counts envelopes
// from the client that were not routed because their kind is reserved for
// the broker.
type ClientInfo struct {
	ID        uint64    `json:"id"`
	Filters   []string  `json:"filters"`
	Sent      uint64    `json:"sent"`
	Received  uint64    `json:"received"`
	Dropped   uint64    `json:"dropped"`
	Connected time.Time `json:"connected"`
}

type client struct {
	id        uint64
	conn      net.Conn
	w         *bufio.Writer
	filter    *glob.Set
	sent      uint64
	received  uint64
	dropped   uint64
	connected time.Time
}

type options struct {
	writeTimeout time.Duration
}

// Option configures a Hub.
type Option func(*options)

// WithWriteTimeout bounds every write to a client. A client that cannot
// take a line within d is disconnected. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// Hub holds the client registry.
type Hub struct {
	opts    options
	clients map[uint64]*client
}

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	o := options{writeTimeout: consts.Timeout5Seconds}
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub{
		opts:    o,
		clients: make(map[uint64]*client),
	}
}

// Run processes events until the channel is closed, then closes every
// remaining client connection.
func (h *Hub) Run(events <-chan listener.Event) {
	logger.Info("hub: started")
	for ev := range events {
		switch ev := ev.(type) {
		case listener.Stream:
			h.register(ev)
		case listener.Line:
			h.route(ev)
		case listener.Disconnect:
			h.remove(ev.ID, ev.Err)
		case listener.Query:
			ev.Do()
		default:
			logger.Warn("hub: unknown event %T", ev)
		}
	}

	for id := range h.clients {
		h.remove(id, nil)
	}
	logger.Info("hub: stopped")
}

// Clients returns a snapshot of the registry, taken on the Hub goroutine.
func (h *Hub) Clients(ctx context.Context, q Submitter) ([]ClientInfo, error) {
	reply := make(chan []ClientInfo, 1)
	if err := q.Submit(ctx, listener.Query{Do: func() { reply <- h.snapshot() }}); err != nil {
		return nil, err
	}
	select {
	case infos := <-reply:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) snapshot() []ClientInfo {
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, ClientInfo{
			ID:        c.id,
			Filters:   c.filter.Filters(),
			Sent:      c.sent,
			Received:  c.received,
			Dropped:   c.dropped,
			Connected: c.connected,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (h *Hub) register(ev listener.Stream) {
	if old, ok := h.clients[ev.ID]; ok {
		logger.Warn("hub: client %d registered twice, replacing", ev.ID)
		old.conn.Close()
	}
	h.clients[ev.ID] = &client{
		id:        ev.ID,
		conn:      ev.Conn,
		w:         bufio.NewWriterSize(ev.Conn, consts.BufferSize4KB),
		filter:    glob.All(),
		connected: time.Now(),
	}
	logger.Info("hub: client %d registered (total: %d)", ev.ID, len(h.clients))
}

// remove drops a client and closes its connection. Unknown ids are ignored.
func (h *Hub) remove(id uint64, cause error) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	c.conn.Close()
	if cause != nil {
		logger.Info("hub: client %d removed: %v (total: %d)", id, cause, len(h.clients))
		return
	}
	logger.Info("hub: client %d removed (total: %d)", id, len(h.clients))
}

func (h *Hub) route(ev listener.Line) {
	env, err := envelope.Parse(ev.Data)
	if err != nil {
		logger.Debug("hub: client %d: dropping line: %v", ev.ID, err)
		return
	}

	sender := h.clients[ev.ID]
	if sender != nil {
		sender.sent++
	}

	if isControl(env.Kind()) {
		h.control(sender, env)
		return
	}
	h.broadcast(ev.ID, env)
}

func (h *Hub) broadcast(from uint64, env *envelope.Envelope) {
	kind := env.Kind()
	for id, c := range h.clients {
		if id == from || !c.filter.Match(kind) {
			continue
		}
		if err := h.write(c, env.Raw()); err != nil {
			logger.Warn("hub: write to client %d failed: %v", id, err)
			h.remove(id, err)
			continue
		}
		c.received++
	}
}

func (h *Hub) write(c *client, line []byte) error {
	if h.opts.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(h.opts.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.w.Write(line); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}
