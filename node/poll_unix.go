//go:build linux
// +build linux

package node

import (
	"math"
	"os"
	"time"
	"unsafe"

	"github.com/fzft/go-echo-poll/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	inEvents  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
	outEvents = unix.EPOLLOUT | unix.EPOLLERR
)

// Poller owns an epoll instance and the eventfd used to wake it up.
type Poller struct {
	*Registry
	epollFd int
	efd     int
	events  []unix.EpollEvent
}

// NewPoller creates the epoll instance. maxEvents bounds a single batch.
func NewPoller(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create epoll", zap.Error(err))
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	p := &Poller{
		Registry: NewRegistry(epfd),
		epollFd:  epfd,
		efd:      efd,
		events:   make([]unix.EpollEvent, maxEvents),
	}

	// Register the eventfd to epoll for read events
	if err := p.add(WakeToken, efd, Readable, levelTriggered); err != nil {
		log.Logger.Error("Failed to add eventfd to epoll", zap.Error(err))
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return p, nil
}

// Register starts edge-triggered notifications for fd under token.
func (p *Poller) Register(token Token, fd int, interest Interest) error {
	return p.add(token, fd, interest, edgeTriggered)
}

// RegisterListener registers a listening socket, level-triggered, so a
// backlog left behind by an interrupted accept drain is reported again.
func (p *Poller) RegisterListener(token Token, fd int) error {
	return p.add(token, fd, Readable, levelTriggered)
}

// Reregister replaces the interest of token. For edge-triggered
// registrations this also re-arms readiness reporting.
func (p *Poller) Reregister(token Token, interest Interest) error {
	return p.modify(token, interest)
}

// Deregister stops notifications for token.
func (p *Poller) Deregister(token Token) error {
	return p.remove(token)
}

// Poll blocks until a registration is ready or the timeout elapses and
// fills events with the batch. A negative timeout blocks indefinitely.
// An interrupted wait returns an empty batch.
func (p *Poller) Poll(timeout time.Duration, events []Event) ([]Event, error) {
	events = events[:0]
	n, err := unix.EpollWait(p.epollFd, p.events, pollMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return events, nil
		}
		return events, &FatalPollError{Err: os.NewSyscallError("epoll_wait", err)}
	}

	for i := 0; i < n; i++ {
		ev := &p.events[i]
		events = append(events, Event{
			Token:    eventToken(ev),
			Readable: ev.Events&inEvents != 0,
			Writable: ev.Events&outEvents != 0,
		})
	}
	return events, nil
}

// pollMillis converts timeout to the epoll_wait argument: -1 blocks, a
// positive timeout below a millisecond rounds up, and the result fits a C int.
func pollMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	msec := timeout / time.Millisecond
	if msec > math.MaxInt32 {
		return math.MaxInt32
	}
	if msec == 0 && timeout > 0 {
		return 1
	}
	return int(msec)
}

// Wake interrupts a blocked Poll. Safe to call from any goroutine.
func (p *Poller) Wake() error {
	var one uint64 = 1
	_, err := unix.Write(p.efd, (*(*[8]byte)(unsafe.Pointer(&one)))[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		log.Logger.Error("Failed to write to event fd", zap.Error(err))
		return os.NewSyscallError("write eventfd", err)
	}
	return nil
}

// drainWake resets the eventfd counter.
func (p *Poller) drainWake() {
	var buf uint64
	_, err := unix.Read(p.efd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		log.Logger.Warn("Failed to read from event fd", zap.Error(err))
	}
}

// Close order: eventfd, epoll. Registered sockets are owned by their callers.
func (p *Poller) Close() error {
	var errs MultiError

	if err := p.remove(WakeToken); err != nil {
		log.Logger.Debug("Failed to delete eventfd from epoll", zap.Error(err))
	}
	if err := CloseFd(p.efd); err != nil {
		errs = append(errs, errors.Wrap(err, "close eventfd"))
	}
	if err := CloseFd(p.epollFd); err != nil {
		errs = append(errs, errors.Wrap(err, "close epoll"))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
