//go:build linux

package selector

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollSelector implements Selector with epoll in level-triggered mode
// (the default epoll behavior absent EPOLLET): readiness notifications
// keep firing until the application actually drains the fd.
type epollSelector struct {
	epfd int
	keys map[int]*Key
}

// NewEpoll creates an epoll-backed selector.
func NewEpoll() (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollSelector{epfd: epfd, keys: make(map[int]*Key)}, nil
}

func toEpollEvents(i Interest) uint32 {
	var events uint32
	if i.Has(Read) {
		events |= unix.EPOLLIN
	}
	if i.Has(Write) {
		events |= unix.EPOLLOUT
	}
	return events
}

func (s *epollSelector) Register(fd int, interest Interest) (*Key, error) {
	key := &Key{FD: fd, interest: interest}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, err
	}
	s.keys[fd] = key
	return key, nil
}

func (s *epollSelector) SetInterest(key *Key, interest Interest) error {
	if key.interest == interest {
		return nil
	}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(key.FD)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, key.FD, &ev); err != nil {
		return err
	}
	key.interest = interest
	return nil
}

func (s *epollSelector) Deregister(key *Key) error {
	delete(s.keys, key.FD)
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, key.FD, nil)
}

func (s *epollSelector) Poll(timeout time.Duration) ([]Ready, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(s.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	ready := make([]Ready, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		key, ok := s.keys[int(ev.Fd)]
		if !ok {
			continue
		}
		ready = append(ready, Ready{
			Key:      key,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Error:    ev.Events&unix.EPOLLERR != 0,
			HangUp:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return ready, nil
}

func (s *epollSelector) Close() error {
	return unix.Close(s.epfd)
}

// New returns the platform's default Selector implementation.
func New() (Selector, error) {
	return NewEpoll()
}
