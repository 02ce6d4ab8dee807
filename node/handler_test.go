//go:build linux
// +build linux

package node

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type readStep struct {
	data []byte
	eof  bool
	err  error
}

type writeStep struct {
	max int
	err error
}

// fakeSocket replays scripted reads and writes. An exhausted read script
// would block; an exhausted write script accepts everything.
type fakeSocket struct {
	reads   []readStep
	writes  []writeStep
	written bytes.Buffer
	closed  bool
}

func (f *fakeSocket) Read(p []byte) (int, error) {
	if len(f.reads) == 0 {
		return 0, unix.EAGAIN
	}
	step := &f.reads[0]
	switch {
	case step.err != nil:
		f.reads = f.reads[1:]
		return 0, step.err
	case step.eof:
		return 0, nil
	}
	n := copy(p, step.data)
	step.data = step.data[n:]
	if len(step.data) == 0 {
		f.reads = f.reads[1:]
	}
	return n, nil
}

func (f *fakeSocket) Write(p []byte) (int, error) {
	if len(f.writes) > 0 {
		step := f.writes[0]
		f.writes = f.writes[1:]
		if step.err != nil {
			return 0, step.err
		}
		if step.max < len(p) {
			f.written.Write(p[:step.max])
			return step.max, nil
		}
	}
	f.written.Write(p)
	return len(p), nil
}

func (f *fakeSocket) Close() error {
	f.closed = true
	return nil
}

type fakeRegistrar struct {
	calls []Interest
	err   error
}

func (r *fakeRegistrar) Reregister(_ Token, interest Interest) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, interest)
	return nil
}

func newTestConn(t *testing.T, sock *fakeSocket, maxOutput int) (*ConnHandler, *fakeRegistrar, *Conn) {
	t.Helper()
	reg := &fakeRegistrar{}
	h := NewConnHandler(reg, 8, maxOutput)
	_, c := NewConnTable().Insert(sock, "test")
	return h, reg, c
}

var (
	readable = Event{Readable: true}
	writable = Event{Writable: true}
)

func TestHandleEchoesChunkedInput(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{
		{data: []byte("hel")},
		{data: []byte("lo")},
		{data: []byte(" world, longer than the scratch buffer")},
	}}
	h, reg, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, readable)
	require.False(t, teardown)
	require.NoError(t, reason)

	assert.Equal(t, "hello world, longer than the scratch buffer", sock.written.String())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, AwaitingInput, c.State())
	assert.Equal(t, []Interest{Readable}, reg.calls)
}

func TestHandleFirstWritableIsNoop(t *testing.T) {
	sock := &fakeSocket{}
	h, _, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, writable)
	assert.False(t, teardown)
	assert.NoError(t, reason)
	assert.Equal(t, 0, sock.written.Len())
	assert.Equal(t, AwaitingInput, c.State())
}

func TestHandlePartialWriteKeepsRemainder(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{data: []byte("abcdefgh")}},
		writes: []writeStep{{max: 3}, {err: unix.EAGAIN}},
	}
	h, reg, c := newTestConn(t, sock, 0)

	teardown, _ := h.Handle(c, readable)
	require.False(t, teardown)
	assert.Equal(t, "abc", sock.written.String())
	assert.Equal(t, []byte("defgh"), c.DataToWrite())
	assert.Equal(t, Draining, c.State())
	// registered read|write already, nothing to change
	assert.Empty(t, reg.calls)

	teardown, _ = h.Handle(c, writable)
	require.False(t, teardown)
	assert.Equal(t, "abcdefgh", sock.written.String())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, AwaitingInput, c.State())
	assert.Equal(t, []Interest{Readable}, reg.calls)
}

func TestHandlePartialWritesAreRetriedUntilBlocked(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{data: []byte("0123456789")}},
		writes: []writeStep{{max: 2}, {max: 2}, {max: 1}},
	}
	h, _, c := newTestConn(t, sock, 0)

	teardown, _ := h.Handle(c, readable)
	require.False(t, teardown)
	assert.Equal(t, "0123456789", sock.written.String())
	assert.Equal(t, AwaitingInput, c.State())
}

func TestHandleWouldBlockLeavesStateUnchanged(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{data: []byte("xy")}},
		writes: []writeStep{{err: unix.EAGAIN}},
	}
	h, _, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, readable)
	require.False(t, teardown)
	require.NoError(t, reason)
	assert.Equal(t, []byte("xy"), c.DataToWrite())
	assert.Equal(t, Draining, c.State())

	sock.writes = []writeStep{{err: unix.EWOULDBLOCK}}
	teardown, reason = h.Handle(c, writable)
	require.False(t, teardown)
	require.NoError(t, reason)
	assert.Equal(t, []byte("xy"), c.DataToWrite())
	assert.Equal(t, Draining, c.State())
	assert.Equal(t, 0, sock.written.Len())

	// a readable event with nothing to read is not an error either
	sock.writes = []writeStep{{err: unix.EAGAIN}}
	teardown, reason = h.Handle(c, readable)
	require.False(t, teardown)
	require.NoError(t, reason)
	assert.Equal(t, []byte("xy"), c.DataToWrite())
}

func TestHandleInterruptedIsRetried(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{err: unix.EINTR}, {data: []byte("abc")}},
		writes: []writeStep{{err: unix.EINTR}},
	}
	h, _, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, readable)
	require.False(t, teardown)
	require.NoError(t, reason)
	assert.Equal(t, "abc", sock.written.String())
}

func TestHandleHalfCloseEchoesThenCloses(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{data: []byte("ping")}, {eof: true}}}
	h, _, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, readable)
	assert.True(t, teardown)
	assert.True(t, errors.Is(reason, ErrPeerClosed))
	assert.Equal(t, "ping", sock.written.String())
}

func TestHandleHalfCloseWaitsForDrain(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{data: []byte("ping")}, {eof: true}},
		writes: []writeStep{{max: 2}, {err: unix.EAGAIN}},
	}
	h, reg, c := newTestConn(t, sock, 0)

	teardown, _ := h.Handle(c, readable)
	require.False(t, teardown)
	assert.Equal(t, Closing, c.State())
	assert.Equal(t, []Interest{Writable}, reg.calls)

	teardown, reason := h.Handle(c, writable)
	assert.True(t, teardown)
	assert.True(t, errors.Is(reason, ErrPeerClosed))
	assert.Equal(t, "ping", sock.written.String())
}

func TestHandleReadErrorTearsDown(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{data: []byte("lost")}, {err: unix.ECONNRESET}}}
	h, _, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, readable)
	assert.True(t, teardown)
	var ioErr *IOError
	require.True(t, errors.As(reason, &ioErr))
	assert.Equal(t, "read", ioErr.Op)
	assert.True(t, errors.Is(reason, unix.ECONNRESET))
}

func TestHandleWriteErrorTearsDown(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{data: []byte("x")}},
		writes: []writeStep{{err: unix.EPIPE}},
	}
	h, _, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, readable)
	assert.True(t, teardown)
	var ioErr *IOError
	require.True(t, errors.As(reason, &ioErr))
	assert.Equal(t, "write", ioErr.Op)
	assert.True(t, errors.Is(reason, unix.EPIPE))
}

func TestHandleWriteZeroTearsDown(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{data: []byte("x")}},
		writes: []writeStep{{max: 0}},
	}
	h, _, c := newTestConn(t, sock, 0)

	teardown, reason := h.Handle(c, readable)
	assert.True(t, teardown)
	assert.True(t, errors.Is(reason, ErrWriteZero))
}

func TestHandleBufferLimitPausesReading(t *testing.T) {
	sock := &fakeSocket{
		reads:  []readStep{{data: []byte("abcdefghij")}},
		writes: []writeStep{{err: unix.EAGAIN}},
	}
	h, reg, c := newTestConn(t, sock, 4)

	teardown, _ := h.Handle(c, readable)
	require.False(t, teardown)
	assert.Equal(t, []byte("abcd"), c.DataToWrite())
	assert.True(t, c.paused)
	assert.Equal(t, []Interest{Writable}, reg.calls)

	teardown, _ = h.Handle(c, writable)
	require.False(t, teardown)
	assert.Equal(t, "abcdefghij", sock.written.String())
	assert.False(t, c.paused)
	assert.Equal(t, AwaitingInput, c.State())
	assert.Equal(t, []Interest{Writable, Readable}, reg.calls)
}

func TestHandleReregisterFailureTearsDown(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{data: []byte("x")}}}
	h, reg, c := newTestConn(t, sock, 0)
	reg.err = &RegistrationError{Op: "reregister", Token: c.Token(), Err: ErrNotRegistered}

	teardown, reason := h.Handle(c, readable)
	assert.True(t, teardown)
	assert.True(t, errors.Is(reason, ErrNotRegistered))
}

func TestHandleClosedConnIsIgnored(t *testing.T) {
	sock := &fakeSocket{reads: []readStep{{data: []byte("x")}}}
	h, _, c := newTestConn(t, sock, 0)
	require.NoError(t, c.Close())

	teardown, reason := h.Handle(c, readable)
	assert.False(t, teardown)
	assert.NoError(t, reason)
	assert.Equal(t, 0, sock.written.Len())
}

func TestDesiredInterest(t *testing.T) {
	tests := []struct {
		state  ConnState
		paused bool
		want   Interest
	}{
		{AwaitingInput, false, Readable},
		{Draining, false, ReadWrite},
		{Draining, true, Writable},
		{Closing, false, Writable},
	}
	for _, tt := range tests {
		c := &Conn{state: tt.state, paused: tt.paused}
		assert.Equal(t, tt.want, desiredInterest(c), "%s paused=%v", tt.state, tt.paused)
	}
}
