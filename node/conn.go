package node

import (
	"bytes"
	"time"
)

// Socket is a non-blocking stream socket. Read and Write never block; they
// report EAGAIN instead.
type Socket interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// ConnState is the explicit per-connection state.
type ConnState uint8

const (
	// AwaitingInput: output buffer empty.
	AwaitingInput ConnState = iota
	// Draining: output buffer holds bytes not yet echoed.
	Draining
	// Closing: the peer shut its write side, flush what is left then close.
	Closing
	// Closed: torn down, no longer in the table.
	Closed
)

func (s ConnState) String() string {
	switch s {
	case AwaitingInput:
		return "awaiting-input"
	case Draining:
		return "draining"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Conn is a connection record. It exclusively owns its socket.
type Conn struct {
	token      Token
	sock       Socket
	remote     string
	outBuffer  bytes.Buffer
	state      ConnState
	interest   Interest // interest currently registered with the poller
	paused     bool     // input left unread because outBuffer hit the limit
	lastActive time.Time
	activity   *activityNode
}

func newConn(token Token, sock Socket, remote string) *Conn {
	return &Conn{
		token:      token,
		sock:       sock,
		remote:     remote,
		state:      AwaitingInput,
		interest:   ReadWrite,
		lastActive: time.Now(),
	}
}

func (c *Conn) Token() Token {
	return c.token
}

func (c *Conn) Remote() string {
	return c.remote
}

func (c *Conn) State() ConnState {
	return c.state
}

// DataToWrite returns the pending output, oldest byte first.
func (c *Conn) DataToWrite() []byte {
	return c.outBuffer.Bytes()
}

// Next moves the buffer forward.
func (c *Conn) Next(n int) {
	c.outBuffer.Next(n)
}

// Len returns the length of the buffer.
func (c *Conn) Len() int {
	return c.outBuffer.Len()
}

// Close closes the socket. The record must already be deregistered.
func (c *Conn) Close() error {
	c.state = Closed
	return c.sock.Close()
}
