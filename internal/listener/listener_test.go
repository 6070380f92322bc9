package listener

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPath returns a short path; sun_path is limited to ~108 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cyl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "b.sock")
}

type harness struct {
	l      *Listener
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func start(t *testing.T, opts ...Option) *harness {
	t.Helper()
	events := make(chan Event, 64)
	l := New(socketPath(t), events, opts...)
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{l: l, events: events, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = l.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", h.l.Path())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev, ok := <-h.events:
		require.True(t, ok, "event queue closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestListenRefusesExistingPath(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0644))

	l := New(path, make(chan Event))
	err := l.Listen()
	assert.True(t, errors.Is(err, ErrPathExists), "got %v", err)
}

func TestServeClosesQueueOnBindFailure(t *testing.T) {
	events := make(chan Event)
	l := New(filepath.Join(t.TempDir(), "missing-dir", "b.sock"), events)

	require.Error(t, l.Serve(context.Background()))
	_, ok := <-events
	assert.False(t, ok)
}

func TestStreamLinesDisconnect(t *testing.T) {
	h := start(t)
	conn := h.dial(t)

	_, err := io.WriteString(conn, "first\r\n\nsecond\n\n\nthird")
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	stream, ok := h.next(t).(Stream)
	require.True(t, ok)
	assert.Equal(t, uint64(0), stream.ID)
	assert.NotNil(t, stream.Conn)

	for _, want := range []string{"first", "second", "third"} {
		line, ok := h.next(t).(Line)
		require.True(t, ok)
		assert.Equal(t, uint64(0), line.ID)
		assert.Equal(t, want, string(line.Data))
	}

	disc, ok := h.next(t).(Disconnect)
	require.True(t, ok)
	assert.Equal(t, uint64(0), disc.ID)
	assert.NoError(t, disc.Err)
}

func TestIDsIncrease(t *testing.T) {
	h := start(t)

	var ids []uint64
	for i := 0; i < 3; i++ {
		h.dial(t)
		stream, ok := h.next(t).(Stream)
		require.True(t, ok)
		ids = append(ids, stream.ID)
	}
	assert.Equal(t, []uint64{0, 1, 2}, ids)
}

func TestLongLineDisconnects(t *testing.T) {
	h := start(t, WithMaxLineSize(16))
	conn := h.dial(t)

	_, err := io.WriteString(conn, "ok\n"+strings.Repeat("x", 64)+"\n")
	require.NoError(t, err)

	_, ok := h.next(t).(Stream)
	require.True(t, ok)
	line, ok := h.next(t).(Line)
	require.True(t, ok)
	assert.Equal(t, "ok", string(line.Data))

	disc, ok := h.next(t).(Disconnect)
	require.True(t, ok)
	assert.True(t, errors.Is(disc.Err, bufio.ErrTooLong))

	// The broker closed its end.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestSubmitQuery(t *testing.T) {
	h := start(t)

	ran := make(chan struct{})
	require.NoError(t, h.l.Submit(context.Background(), Query{Do: func() { close(ran) }}))

	query, ok := h.next(t).(Query)
	require.True(t, ok)
	query.Do()
	<-ran
}

func TestShutdown(t *testing.T) {
	h := start(t)
	conn := h.dial(t)
	st, ok := h.next(t).(Stream)
	require.True(t, ok)

	h.cancel()
	select {
	case <-h.done:
		assert.NoError(t, h.err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	_, err := os.Stat(h.l.Path())
	assert.True(t, os.IsNotExist(err), "socket file should be removed")

	// Drain anything left; the queue must be closed.
	for range h.events {
	}

	// The consumer still owns the write side and closes it after draining.
	_, err = st.Conn.Write([]byte("late\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "late\n", line)

	require.NoError(t, st.Conn.Close())
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	assert.ErrorIs(t, h.l.Submit(context.Background(), Query{Do: func() {}}), ErrClosed)
}
