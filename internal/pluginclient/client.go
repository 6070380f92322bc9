// Package pluginclient is the plugin side of the broker protocol.
//
// A plugin receives the broker socket path as its last argument, dials it
// and then exchanges newline-delimited JSON envelopes:
//
//	c, err := pluginclient.Dial(ctx, os.Args[len(os.Args)-1])
//	if err != nil { ... }
//	defer c.Close()
//	c.Subscribe(ctx, "irc/*")
//	for {
//		env, err := c.Receive(ctx)
//		...
//	}
//
// Responses to requests made with Request are delivered to the caller and
// never show up in Receive. Everything else waits in a bounded inbox; when
// the plugin falls behind, the oldest unread envelope is dropped so that
// responses keep flowing.
package pluginclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/envelope"
)

// ErrClosed is returned after the connection to the broker is gone.
var ErrClosed = errors.New("connection closed")

// InboxSize is the number of unread envelopes a Client buffers.
const InboxSize = 256

// RemoteError is the error object of a response envelope.
type RemoteError struct {
	Kind    string
	Message string
	Raw     json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Raw)
}

// Client is a connection to the broker. It is safe for concurrent use.
type Client struct {
	conn net.Conn

	writeMu      sync.Mutex
	w            *bufio.Writer
	writeTimeout time.Duration

	incoming chan *envelope.Envelope
	dropped  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]chan *envelope.Envelope

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Dial connects to the broker socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:         conn,
		w:            bufio.NewWriterSize(conn, consts.BufferSize4KB),
		writeTimeout: consts.Timeout10Seconds,
		incoming:     make(chan *envelope.Envelope, InboxSize),
		pending:      make(map[string]chan *envelope.Envelope),
		done:         make(chan struct{}),
	}
	go c.readPump()
	return c
}

// Notify broadcasts a notification.
func (c *Client) Notify(kind string, params any) error {
	line, err := envelope.NewNotification(kind, params)
	if err != nil {
		return err
	}
	return c.writeLine(line)
}

// Respond answers req with result.
func (c *Client) Respond(req *envelope.Envelope, result any) error {
	line, err := envelope.NewResponse(req.ID(), req.Kind(), result)
	if err != nil {
		return err
	}
	return c.writeLine(line)
}

// RespondError answers req with an error object {"message": msg}.
func (c *Client) RespondError(req *envelope.Envelope, msg string) error {
	line, err := envelope.NewErrorResponse(req.ID(), req.Kind(), map[string]string{"message": msg})
	if err != nil {
		return err
	}
	return c.writeLine(line)
}

// Request broadcasts a request with a fresh id and waits for the first
// response carrying that id. An error response becomes a *RemoteError.
func (c *Client) Request(ctx context.Context, kind string, params any) (*envelope.Envelope, error) {
	id := uuid.NewString()
	line, err := envelope.NewRequest(id, kind, params)
	if err != nil {
		return nil, err
	}

	reply := make(chan *envelope.Envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeLine(line); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		if raw := resp.Error(); raw != nil {
			return resp, &RemoteError{
				Kind:    resp.Kind(),
				Message: gjson.GetBytes(raw, "message").String(),
				Raw:     raw,
			}
		}
		return resp, nil
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe replaces this plugin's kind filters. The broker validates every
// filter; on error the previous filters stay active.
func (c *Client) Subscribe(ctx context.Context, filters ...string) ([]string, error) {
	if filters == nil {
		filters = []string{}
	}
	resp, err := c.Request(ctx, consts.KindSubscribe, map[string][]string{"kinds": filters})
	if err != nil {
		return nil, err
	}

	var result struct {
		Kinds []string `json:"kinds"`
	}
	if err := json.Unmarshal(resp.Result(), &result); err != nil {
		return nil, fmt.Errorf("failed to decode subscribe result: %w", err)
	}
	return result.Kinds, nil
}

// Receive returns the next envelope routed to this plugin.
func (c *Client) Receive(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case env := <-c.incoming:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// Drain what arrived before the connection closed.
		select {
		case env := <-c.incoming:
			return env, nil
		default:
			return nil, c.closedErr()
		}
	}
}

// Dropped returns how many envelopes were discarded because the inbox was
// full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Done is closed when the connection to the broker ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(nil)
	return err
}

func (c *Client) writeLine(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.w.Write(line); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// readPump reads envelopes until the connection closes. Lines that are not
// valid envelopes are skipped.
func (c *Client) readPump() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, consts.BufferSize64KB), consts.MaxLineSize)

	for scanner.Scan() {
		env, err := envelope.Parse(bytes.Clone(scanner.Bytes()))
		if err != nil {
			continue
		}
		if env.Shape() == envelope.Response && c.deliver(env) {
			continue
		}
		c.enqueue(env)
	}
	c.shutdown(scanner.Err())
}

// enqueue never blocks; readPump is the only sender on incoming.
func (c *Client) enqueue(env *envelope.Envelope) {
	for {
		select {
		case c.incoming <- env:
			return
		default:
		}
		select {
		case <-c.incoming:
			c.dropped.Add(1)
		default:
		}
	}
}

func (c *Client) deliver(env *envelope.Envelope) bool {
	c.pendingMu.Lock()
	reply, ok := c.pending[env.ID()]
	if ok {
		delete(c.pending, env.ID())
	}
	c.pendingMu.Unlock()
	if ok {
		reply <- env
	}
	return ok
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Client) closedErr() error {
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}
