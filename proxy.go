package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// For each pair of connections, there may be four errors. Error on
// reading the local/inbound conn, error on writing to local conn,
// error on reading from remote/target end, error on writing to
// remote end. It's important to distinguish which one was first, so
// 0 means LocalRead, 1 means LocalWrite, 2 means RemoteRead and 3
// means RemoteWrite was first.
type ProxyError struct {
	LocalRead   error
	LocalWrite  error
	RemoteRead  error
	RemoteWrite error
	First       int
}

// See this and cry: https://github.com/golang/go/issues/4373
func ErrIsMyFault(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	s := err.Error()
	return strings.HasSuffix(s, "use of closed network connection")
}

// ErrKind maps an I/O error to a short label. Every relay error ends
// the pair the same way; the label only makes the log line useful.
func ErrKind(err error) string {
	var ne net.Error
	switch {
	case err == nil:
		return "0"
	case errors.Is(err, io.EOF):
		return "eof"
	case ErrIsMyFault(err):
		return "closed"
	case errors.Is(err, unix.ECONNREFUSED):
		return "refused"
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return "reset"
	case errors.Is(err, unix.ETIMEDOUT):
		return "timeout"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.ENETUNREACH):
		return "unreachable"
	}
	return "error"
}

func (pe ProxyError) String() string {
	x := []string{
		ErrKind(pe.LocalRead),
		ErrKind(pe.LocalWrite),
		ErrKind(pe.RemoteRead),
		ErrKind(pe.RemoteWrite),
	}
	x[pe.First] = fmt.Sprintf("[%s]", x[pe.First])

	return fmt.Sprintf("l=%s/%s r=%s/%s", x[0], x[1], x[2], x[3])
}

// Every read is at most one chunk. Nothing is buffered beyond it.
const PROXYBUFSIZE = 4096

func proxyOneFlow(
	in, out net.Conn,
	readErrPtr, writeErrPtr *error,
	doneCh chan int,
	scDir int) {
	var buf [PROXYBUFSIZE]byte

	for {
		n, err := in.Read(buf[:])
		if n > 0 {
			// Write must return n==len(buf) or err
			// https://golang.org/pkg/io/#Writer
			if _, werr := out.Write(buf[:n]); werr != nil {
				*writeErrPtr = werr
				break
			}
		}
		if err != nil {
			*readErrPtr = err
			break
		}
		if n == 0 {
			*readErrPtr = io.EOF
			break
		}
	}

	// Synchronize with parent. It's important to do this _before_
	// closing sockets, since .Close() will trigger the other
	// proxy goroutine to exit with "use of closed fd"
	// error. There is no race here. We can push to channel
	// without closing yet.
	doneCh <- scDir

	in.Close()
	out.Close()
}

func connSplice(local, remote net.Conn) ProxyError {
	var (
		pe     ProxyError
		doneCh = make(chan int, 2)
	)

	go proxyOneFlow(local, remote, &pe.LocalRead,
		&pe.RemoteWrite, doneCh, 0)
	proxyOneFlow(remote, local, &pe.RemoteRead,
		&pe.LocalWrite, doneCh, 1)
	first := <-doneCh
	_ = <-doneCh
	switch {
	case first == 0 && pe.RemoteWrite != nil:
		pe.First = 3
	case first == 0:
		pe.First = 0
	case first == 1 && pe.LocalWrite != nil:
		pe.First = 1
	case first == 1:
		pe.First = 2
	}
	return pe
}
