package node

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type MultiError []error

func (m MultiError) Error() string {
	var b strings.Builder
	b.WriteString("multiple errors:")
	for _, err := range m {
		b.WriteString("\n- " + err.Error())
	}
	return b.String()
}

var (
	ErrServerStopped     = errors.New("server stopped")
	ErrAlreadyRegistered = errors.New("token already registered")
	ErrNotRegistered     = errors.New("token not registered")
	ErrWriteZero         = errors.New("write accepted zero bytes")
	ErrIdleTimeout       = errors.New("connection idle timeout")
	ErrPeerClosed        = errors.New("peer closed connection")
	ErrAcceptExhausted   = errors.New("accept: out of resources")
)

// RegistrationError reports misuse of the poller or a failed epoll_ctl.
type RegistrationError struct {
	Op    string
	Token Token
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s token %d: %v", e.Op, e.Token, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// FatalPollError means epoll itself failed; no further I/O can be trusted.
type FatalPollError struct {
	Err error
}

func (e *FatalPollError) Error() string {
	return "poll failed: " + e.Err.Error()
}

func (e *FatalPollError) Unwrap() error {
	return e.Err
}

// IOError is an unrecoverable read or write failure on one connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}
