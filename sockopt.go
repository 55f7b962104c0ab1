package main

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func reuseaddrControl(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// ListenReuseTCP binds a TCP listener with SO_REUSEADDR set before
// bind(2), so a restart does not trip over sockets in TIME_WAIT.
func ListenReuseTCP(laddr *net.TCPAddr) (*net.TCPListener, error) {
	lc := net.ListenConfig{Control: reuseaddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", laddr.String())
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}
