package node

import (
	"bytes"

	"github.com/fzft/go-echo-poll/metrics"
)

const (
	DefaultReadBufferSize  = 16 * 1024
	DefaultMaxOutputBuffer = 4 * 1024 * 1024

	// an emptied output buffer bigger than this is released
	bufferShrinkThreshold = 64 * 1024
)

// Registrar changes the interest of a registered connection.
type Registrar interface {
	Reregister(token Token, interest Interest) error
}

// ConnHandler runs the read/write cycle of one connection for one event.
// A single handler serves every connection of a reactor and shares its
// scratch buffer between them.
type ConnHandler struct {
	registrar Registrar
	scratch   []byte
	maxOutput int
}

// NewConnHandler builds a handler. maxOutput caps the bytes buffered per
// connection; 0 means unlimited.
func NewConnHandler(registrar Registrar, readBufferSize, maxOutput int) *ConnHandler {
	if readBufferSize <= 0 {
		readBufferSize = DefaultReadBufferSize
	}
	if maxOutput < 0 {
		maxOutput = 0
	}
	return &ConnHandler{
		registrar: registrar,
		scratch:   make([]byte, readBufferSize),
		maxOutput: maxOutput,
	}
}

// Handle services ev for c. It returns true when the connection must be
// torn down; reason is ErrPeerClosed for an orderly close and the I/O
// error otherwise.
func (h *ConnHandler) Handle(c *Conn, ev Event) (teardown bool, reason error) {
	if c.state == Closed {
		return false, nil
	}

	var err error
	switch {
	case ev.Readable:
		err = h.onReadable(c)
	case ev.Writable:
		err = h.onWritable(c)
	}
	if err != nil {
		return true, err
	}

	if c.state == Closing && c.Len() == 0 {
		return true, ErrPeerClosed
	}

	if err := h.rearm(c); err != nil {
		return true, err
	}
	return false, nil
}

// onReadable drains the socket into the output buffer, then flushes.
func (h *ConnHandler) onReadable(c *Conn) error {
	if c.state != Closing {
		if err := h.fill(c); err != nil {
			return err
		}
	}
	return h.onWritable(c)
}

// onWritable flushes the output buffer. Input left unread by the buffer
// limit is picked up again as soon as the buffer has room.
func (h *ConnHandler) onWritable(c *Conn) error {
	for {
		if err := h.flush(c); err != nil {
			return err
		}
		if !c.paused || h.full(c) {
			return nil
		}
		if err := h.fill(c); err != nil {
			return err
		}
	}
}

// fill reads until the socket would block, the peer closes, or the output
// buffer is full.
func (h *ConnHandler) fill(c *Conn) error {
	c.paused = false
	for {
		if h.full(c) {
			c.paused = true
			metrics.ReadPauses.Inc()
			return nil
		}

		buf := h.scratch
		if h.maxOutput > 0 {
			if room := h.maxOutput - c.Len(); room < len(buf) {
				buf = buf[:room]
			}
		}

		n, err := c.sock.Read(buf)
		if n > 0 {
			c.outBuffer.Write(buf[:n])
			metrics.BytesRead.Add(float64(n))
			if err == nil {
				continue
			}
		}

		switch {
		case err == nil:
			// zero bytes: the peer shut down its write side
			c.state = Closing
			return nil
		case isInterrupted(err):
			continue
		case isWouldBlock(err):
			return nil
		default:
			return &IOError{Op: "read", Err: err}
		}
	}
}

// flush writes as much of the output buffer as the socket takes. Bytes
// leave the buffer only once a write has accepted them.
func (h *ConnHandler) flush(c *Conn) error {
	for c.Len() > 0 {
		data := c.DataToWrite()
		n, err := c.sock.Write(data)
		if n > 0 {
			c.Next(n)
			metrics.BytesWritten.Add(float64(n))
			if n < len(data) {
				metrics.PartialWrites.Inc()
			}
		}

		if err != nil {
			if isInterrupted(err) {
				continue
			}
			if isWouldBlock(err) {
				break
			}
			return &IOError{Op: "write", Err: err}
		}
		if n == 0 {
			return &IOError{Op: "write", Err: ErrWriteZero}
		}
	}

	h.settle(c)
	return nil
}

func (h *ConnHandler) full(c *Conn) bool {
	return h.maxOutput > 0 && c.Len() >= h.maxOutput
}

// settle derives the state from the buffer after I/O.
func (h *ConnHandler) settle(c *Conn) {
	if c.Len() == 0 && c.outBuffer.Cap() > bufferShrinkThreshold {
		c.outBuffer = bytes.Buffer{}
	}
	if c.state == Closing || c.state == Closed {
		return
	}
	if c.Len() > 0 {
		c.state = Draining
	} else {
		c.state = AwaitingInput
	}
}

// rearm registers the interest the current state needs, if it changed.
func (h *ConnHandler) rearm(c *Conn) error {
	want := desiredInterest(c)
	if want == c.interest {
		return nil
	}
	if err := h.registrar.Reregister(c.token, want); err != nil {
		return err
	}
	c.interest = want
	return nil
}

func desiredInterest(c *Conn) Interest {
	switch c.state {
	case Closing:
		return Writable
	case Draining:
		if c.paused {
			return Writable
		}
		return ReadWrite
	default:
		return Readable
	}
}
