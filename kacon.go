package main

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

type KaConn interface {
	net.Conn
	SetTimeouts(kaInterval time.Duration, kaCount int) error
}

type KaTCPConn struct {
	*net.TCPConn
}

func (c *KaTCPConn) SetTimeouts(kaInterval time.Duration, kaCount int) error {
	err := c.TCPConn.SetKeepAlive(true)
	if err != nil {
		return err
	}

	err = c.TCPConn.SetKeepAlivePeriod(kaInterval)
	if err != nil {
		return err
	}

	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}

	// Configures the connection to time out after peer has been idle for a
	// while, that is it has not sent or acknowledged any data or not replied to
	// keep-alive probes.
	userTimeout := UserTimeoutFromKeepalive(kaInterval, kaCount)

	var serr error
	err = raw.Control(func(s_ uintptr) {
		s := int(s_)
		serr = unix.SetsockoptInt(s, unix.SOL_TCP, unix.TCP_KEEPCNT, kaCount)
		if serr != nil {
			return
		}
		userTimeoutMillis := int(userTimeout / time.Millisecond)
		serr = unix.SetsockoptInt(s, unix.SOL_TCP, unix.TCP_USER_TIMEOUT, userTimeoutMillis)
	})
	if err != nil {
		return err
	}
	return serr
}

func UserTimeoutFromKeepalive(kaInterval time.Duration, kaCount int) time.Duration {
	// The idle timeout period is determined from the keep-alive probe interval
	// and the total number of probes to sent, that is
	//
	//   TCP_USER_TIMEOUT = TCP_KEEPIDLE + TCP_KEEPINTVL * TCP_KEEPCNT
	//
	// in Go, TCPConn.SetKeepAlivePeriod(d) sets the value for both TCP_KEEPIDLE
	// and TCP_KEEPINTVL
	//
	// More info: https://blog.cloudflare.com/when-tcp-sockets-refuse-to-die/
	//
	return kaInterval + (kaInterval * time.Duration(kaCount))
}

// Number of unanswered probes before a leg is declared dead.
const kaProbeCount = 4

// setKeepalive turns on keepalive for a relay leg when an interval is
// configured. Connections that are not plain TCP are left alone.
func setKeepalive(conn net.Conn, kaInterval time.Duration) error {
	if kaInterval <= 0 {
		return nil
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	var ka KaConn = &KaTCPConn{tc}
	return ka.SetTimeouts(kaInterval, kaProbeCount)
}
