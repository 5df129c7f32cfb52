package corerun

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/internal/selector"
)

// Listener is a non-blocking listening socket bound to one CPU; accepted
// connections are handed off to a Pack's placement policy rather than
// staying on the accepting CPU.
type Listener struct {
	cpu *CPU
	fd  int
	key *selector.Key
}

// Listen binds addr (host:port, TCP/IPv4) and starts accepting
// connections on cpu. Each accepted connection is placed onto a CPU
// chosen by pack.GetCPU (via Pack.Register) and handed to onAccept, which
// runs on that target CPU's own thread, not necessarily cpu's. onFailure
// is called if accept fails (on cpu's thread) or registration fails (on
// the target CPU's thread); it may be nil if the caller doesn't care.
func (c *CPU) Listen(addr string, pack *Pack, onAccept func(*Channel), onFailure func(error)) (*Listener, error) {
	fd, err := listenTCP(addr, DefaultListenBacklog)
	if err != nil {
		return nil, err
	}

	l := &Listener{cpu: c, fd: fd}
	key, err := c.registerHandler(fd, selector.Read, func(selector.Ready) {
		l.acceptLoop(pack, onAccept, onFailure)
	})
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	l.key = key
	return l, nil
}

func (l *Listener) acceptLoop(pack *Pack, onAccept func(*Channel), onFailure func(error)) {
	for {
		connFD, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			wrapped := WrapError("Listener.Accept", err)
			l.cpu.log.Warnf("listener fd=%d: accept: %v", l.fd, wrapped)
			if onFailure != nil {
				onFailure(wrapped)
			}
			return
		}
		pack.Register(connFD, onAccept, onFailure)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.cpu.deregisterHandler(l.key)
	return unix.Close(l.fd)
}

// Addr returns the address the listener is actually bound to, resolving
// an ephemeral port (":0") to the one the kernel assigned.
func (l *Listener) Addr() (string, error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return "", WrapError("Listener.Addr", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", NewError("Listener.Addr", CodeInvalidArgument, "unexpected sockaddr type")
	}
	ip := net.IP(sa4.Addr[:])
	return net.JoinHostPort(ip.String(), strconv.Itoa(sa4.Port)), nil
}

// listenTCP creates a non-blocking, listening IPv4 TCP socket bound to
// addr using raw syscalls instead of net.Listen, so the fd can be driven
// by this package's own selector rather than the Go runtime's netpoller.
func listenTCP(addr string, backlog int) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, WrapError("listenTCP.Resolve", err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, WrapError("listenTCP.Socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, WrapError("listenTCP.SetReuseAddr", err)
	}

	var sa unix.SockaddrInet4
	sa.Port = tcpAddr.Port
	if ip := tcpAddr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}

	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, WrapError("listenTCP.Bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, WrapError("listenTCP.Listen", err)
	}
	return fd, nil
}
