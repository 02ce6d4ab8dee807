//go:build linux
// +build linux

package node

import (
	"github.com/fzft/go-echo-poll/log"
	"github.com/fzft/go-echo-poll/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// connRegistrar registers freshly accepted sockets.
type connRegistrar interface {
	Register(token Token, fd int, interest Interest) error
}

// Acceptor drains the accept queue of a listening socket.
type Acceptor struct {
	fd       int
	table    *ConnTable
	registry connRegistrar
}

func NewAcceptor(listenFd int, table *ConnTable, registry connRegistrar) *Acceptor {
	return &Acceptor{
		fd:       listenFd,
		table:    table,
		registry: registry,
	}
}

// Accept accepts until the kernel reports no pending connection and returns
// how many connections were added to the table. One readiness notification
// may stand for many queued connections. ErrAcceptExhausted means the drain
// stopped with connections still queued because the process or system ran
// out of descriptors or memory; the caller must stop polling the listener
// for a while. Any other error means the listening socket is unusable.
func (a *Acceptor) Accept() (int, error) {
	accepted := 0
	for {
		connFd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case isWouldBlock(err):
				return accepted, nil
			case isInterrupted(err), errors.Is(err, unix.ECONNABORTED):
				continue
			case isResourceExhausted(err):
				metrics.AcceptErrors.Inc()
				log.Logger.Error("accept: out of resources", zap.Error(err))
				return accepted, ErrAcceptExhausted
			case isListenerBroken(err):
				return accepted, errors.Wrap(err, "accept")
			default:
				metrics.AcceptErrors.Inc()
				log.Logger.Warn("accept error", zap.Error(err))
				continue
			}
		}

		remote := sockaddrString(sa)
		token, c := a.table.Insert(newFdSocket(connFd), remote)

		// register the new connection to epoll for read and write events
		if err := a.registry.Register(token, connFd, ReadWrite); err != nil {
			log.Logger.Error("register connection error", zap.Uint64("token", uint64(token)), zap.String("remote", remote), zap.Error(err))
			a.table.Remove(token)
			_ = c.Close()
			continue
		}

		metrics.ConnectionsAccepted.Inc()
		log.Logger.Debug("new connection", zap.Uint64("token", uint64(token)), zap.Int("fd", connFd), zap.String("remote", remote))
		accepted++
	}
}

func isListenerBroken(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.ENOTSOCK) || errors.Is(err, unix.EOPNOTSUPP)
}

func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENOMEM)
}
