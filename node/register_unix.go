//go:build linux
// +build linux

package node

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
)

type trigger uint32

const (
	levelTriggered trigger = 0
	edgeTriggered  trigger = unix.EPOLLET
)

type registration struct {
	fd       int
	interest Interest
	trigger  trigger
}

// Registry is a wrapper around epoll. It keeps track of the tokens that are registered to epoll.
type Registry struct {
	epollFd  int
	epollSet map[Token]registration
}

func NewRegistry(epollFd int) *Registry {
	return &Registry{
		epollFd:  epollFd,
		epollSet: make(map[Token]registration),
	}
}

func (r *Registry) add(token Token, fd int, interest Interest, tr trigger) error {
	if _, ok := r.epollSet[token]; ok {
		return &RegistrationError{Op: "register", Token: token, Err: ErrAlreadyRegistered}
	}

	if err := r.AddInterest(token, fd, interest, tr); err != nil {
		return &RegistrationError{Op: "register", Token: token, Err: err}
	}

	r.epollSet[token] = registration{fd: fd, interest: interest, trigger: tr}
	return nil
}

func (r *Registry) modify(token Token, interest Interest) error {
	reg, ok := r.epollSet[token]
	if !ok {
		return &RegistrationError{Op: "reregister", Token: token, Err: ErrNotRegistered}
	}

	if err := r.ModInterest(token, reg.fd, interest, reg.trigger); err != nil {
		return &RegistrationError{Op: "reregister", Token: token, Err: err}
	}

	reg.interest = interest
	r.epollSet[token] = reg
	return nil
}

func (r *Registry) remove(token Token) error {
	reg, ok := r.epollSet[token]
	if !ok {
		return &RegistrationError{Op: "deregister", Token: token, Err: ErrNotRegistered}
	}

	// the entry goes away even if the kernel already dropped the fd
	delete(r.epollSet, token)
	if err := r.Delete(reg.fd); err != nil {
		return &RegistrationError{Op: "deregister", Token: token, Err: err}
	}
	return nil
}

// Registered returns the interest currently recorded for token.
func (r *Registry) Registered(token Token) (Interest, bool) {
	reg, ok := r.epollSet[token]
	return reg.interest, ok
}

func (r *Registry) AddInterest(token Token, fd int, interest Interest, tr trigger) error {
	ev := newEpollEvent(token, interest, tr)
	return os.NewSyscallError("epoll_ctl add", unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (r *Registry) ModInterest(token Token, fd int, interest Interest, tr trigger) error {
	ev := newEpollEvent(token, interest, tr)
	return os.NewSyscallError("epoll_ctl mod", unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_MOD, fd, &ev))
}

func (r *Registry) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil))
}

func newEpollEvent(token Token, interest Interest, tr trigger) unix.EpollEvent {
	var ev unix.EpollEvent
	ev.Events = uint32(tr)
	if interest.IsReadable() {
		ev.Events |= readEvents
	}
	if interest.IsWritable() {
		ev.Events |= writeEvents
	}
	setEventToken(&ev, token)
	return ev
}

// The token is stored in the 8 byte epoll_data union (Fd and Pad) instead of
// the fd, so an event for a closed fd whose number was reused stays stale.
func setEventToken(ev *unix.EpollEvent, token Token) {
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = uint64(token)
}

func eventToken(ev *unix.EpollEvent) Token {
	return Token(*(*uint64)(unsafe.Pointer(&ev.Fd)))
}
