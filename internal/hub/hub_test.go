package hub

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/codefionn/cylonn/internal/listener"
)

// queue submits straight onto the hub's event channel.
type queue chan listener.Event

func (q queue) Submit(ctx context.Context, ev listener.Event) error {
	select {
	case q <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type peer struct {
	id     uint64
	conn   net.Conn
	reader *bufio.Reader
}

// pair returns both ends of a real Unix socket connection.
func pair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	dir, err := os.MkdirTemp("", "cylhub")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	ln, err := net.Listen("unix", filepath.Join(dir, "p.sock"))
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	client, err = net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}

type harness struct {
	hub  *Hub
	q    queue
	done chan struct{}
}

func start(t *testing.T) *harness {
	t.Helper()
	h := &harness{hub: New(WithWriteTimeout(time.Second)), q: make(queue, 16), done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.hub.Run(h.q)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	select {
	case <-h.done:
		return
	default:
	}
	close(h.q)
	<-h.done
}

func (h *harness) connect(t *testing.T, id uint64) *peer {
	t.Helper()
	server, client := pair(t)
	h.q <- listener.Stream{ID: id, Conn: server}
	return &peer{id: id, conn: client, reader: bufio.NewReader(client)}
}

func (h *harness) send(p *peer, line string) {
	h.q <- listener.Line{ID: p.id, Data: []byte(line)}
}

func (h *harness) clients(t *testing.T) []ClientInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	infos, err := h.hub.Clients(ctx, h.q)
	require.NoError(t, err)
	return infos
}

func (p *peer) expect(t *testing.T, want string) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := p.reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, want+"\n", line)
}

func (p *peer) expectNothing(t *testing.T) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	line, err := p.reader.ReadString('\n')
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected line %q (err %v)", line, err)
}

const (
	ircIn   = `{"id":null,"kind":"irc/in","params":{"text":"hi"}}`
	logLine = `{"id":"7","kind":"log","params":{}}`
)

func TestBroadcastExcludesSender(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)
	c := h.connect(t, 2)

	h.send(a, ircIn)

	b.expect(t, ircIn)
	c.expect(t, ircIn)
	a.expectNothing(t)
}

func TestInvalidEnvelopeDropped(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)

	h.send(a, `not json`)
	h.send(a, `{"id":"1","kind":"x"}`)
	h.send(a, logLine)

	b.expect(t, logLine)
}

func TestSubscribeFiltersDelivery(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)

	h.send(b, `{"id":"s1","kind":"broker/subscribe","params":{"kinds":["irc/*"]}}`)
	b.expect(t, `{"id":"s1","kind":"broker/subscribe","result":{"kinds":["irc/*"]}}`)
	a.expectNothing(t)

	h.send(a, logLine)
	h.send(a, ircIn)
	b.expect(t, ircIn)

	infos := h.clients(t)
	require.Len(t, infos, 2)
	assert.Equal(t, []string{"*"}, infos[0].Filters)
	assert.Equal(t, []string{"irc/*"}, infos[1].Filters)
	assert.Equal(t, uint64(2), infos[0].Sent)
	assert.Equal(t, uint64(0), infos[0].Received)
	assert.Equal(t, uint64(1), infos[1].Sent)
	assert.Equal(t, uint64(2), infos[1].Received, "subscribe reply and one irc line")
}

func TestSubscribeInvalidKeepsFilter(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)

	h.send(b, `{"id":"s1","kind":"broker/subscribe","params":{"kinds":["log","irc/*/x"]}}`)
	reply, err := readLine(t, b)
	require.NoError(t, err)
	assert.Equal(t, "s1", gjson.Get(reply, "id").String())
	assert.Equal(t, "irc/*/x", gjson.Get(reply, "error.filter").String())
	assert.False(t, gjson.Get(reply, "result").Exists())

	h.send(b, `{"id":"s2","kind":"broker/subscribe","params":{"kinds":"log"}}`)
	reply, err = readLine(t, b)
	require.NoError(t, err)
	assert.Contains(t, gjson.Get(reply, "error.message").String(), "array of strings")

	// Still subscribed to everything.
	h.send(a, ircIn)
	b.expect(t, ircIn)
}

func TestUnknownControlKind(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)

	h.send(a, `{"id":"q","kind":"broker/reboot","params":{}}`)
	reply, err := readLine(t, a)
	require.NoError(t, err)
	assert.Contains(t, gjson.Get(reply, "error.message").String(), "broker/reboot")
	b.expectNothing(t)
}

func TestReservedKindNotificationCountedAsDropped(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)

	h.send(a, `{"id":null,"kind":"broker/status","params":{}}`)
	h.send(a, `{"id":"r","kind":"broker/status","result":{}}`)
	h.send(a, logLine)
	b.expect(t, logLine)
	a.expectNothing(t)

	infos := h.clients(t)
	require.Len(t, infos, 2)
	assert.Equal(t, uint64(3), infos[0].Sent)
	assert.Equal(t, uint64(2), infos[0].Dropped)
	assert.Equal(t, uint64(1), infos[1].Received)
	assert.Zero(t, infos[1].Dropped)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	h.connect(t, 1)

	h.q <- listener.Disconnect{ID: 1}
	h.q <- listener.Disconnect{ID: 1}
	h.q <- listener.Disconnect{ID: 99}

	infos := h.clients(t)
	require.Len(t, infos, 1)
	assert.Equal(t, a.id, infos[0].ID)
}

func TestWriteFailureRemovesClient(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)
	c := h.connect(t, 2)

	require.NoError(t, b.conn.Close())
	require.Eventually(t, func() bool {
		h.send(a, ircIn)
		return len(h.clients(t)) == 2
	}, 5*time.Second, 20*time.Millisecond)

	c.expect(t, ircIn)
}

func TestRunClosesClientsOnExit(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	h.clients(t)

	h.stop()

	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := a.reader.ReadString('\n')
	assert.Error(t, err)
}

func TestRunDeliversQueuedLinesBeforeClosing(t *testing.T) {
	h := start(t)
	a := h.connect(t, 0)
	b := h.connect(t, 1)

	// Still queued when the queue is closed.
	h.send(a, ircIn)
	h.send(a, logLine)
	h.stop()

	b.expect(t, ircIn)
	b.expect(t, logLine)
	_, err := readLine(t, b)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSenderFromUnknownClientStillRoutes(t *testing.T) {
	h := start(t)
	b := h.connect(t, 1)

	h.q <- listener.Line{ID: 42, Data: []byte(logLine)}
	b.expect(t, logLine)
}

func readLine(t *testing.T, p *peer) (string, error) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return p.reader.ReadString('\n')
}
