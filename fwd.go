package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

type Listener interface {
	Close() error
	Addr() net.Addr
}

func LocalForwardTCP(state *State, rf FwdAddr) (Listener, error) {
	bind, err := rf.BindAddr()
	if err != nil {
		return nil, err
	}

	srv, err := ListenReuseTCP(bind)
	if err != nil {
		return nil, err
	}

	go acceptLoop(srv, func(conn *net.TCPConn) {
		LocalForward(state, conn, rf)
	})

	return srv, nil
}

// acceptLoop hands every accepted connection to handle on its own
// goroutine. It only returns once the listener is closed; other
// Accept errors (EMFILE and friends) are retried with backoff.
func acceptLoop(srv *net.TCPListener, handle func(*net.TCPConn)) {
	var delay time.Duration
	for {
		conn, err := srv.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			fmt.Fprintf(os.Stderr, "[!] tcp://%s accept error: %s; retrying in %v\n",
				srv.Addr(), err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		go handle(conn)
	}
}

func LocalForward(state *State, conn net.Conn, rf FwdAddr) {
	var pe ProxyError

	targetAddr, err := rf.HostAddr()
	if err == nil && targetAddr.Port == 0 {
		// Target port zero means the port the client connected
		// to on our side.
		targetAddr = tcpAddrSetPort(targetAddr, tcpAddrPort(conn.LocalAddr()))
	}

	var target net.Conn
	if err == nil {
		target, err = net.DialTCP("tcp", nil, targetAddr)
	}
	if err != nil {
		SetResetOnClose(conn)
		conn.Close()
		pe.RemoteRead = err
		pe.First = 2
		if logConnections {
			fmt.Printf("[!] tcp://%s-%s/%s local-fwd error: %s (%s)\n",
				conn.RemoteAddr(),
				conn.LocalAddr(),
				rf.host,
				pe, err)
		}
		return
	}

	for _, c := range []net.Conn{conn, target} {
		if err := setKeepalive(c, state.kaInterval); err != nil && logConnections {
			fmt.Printf("[!] tcp://%s keepalive: %s\n", c.LocalAddr(), err)
		}
	}

	ppPrefix := ""
	if rf.proxyProtocol {
		ppPrefix = "PP "
		hdr := EncodePP(conn.RemoteAddr().(*net.TCPAddr), conn.LocalAddr().(*net.TCPAddr))
		if _, err := target.Write(hdr); err != nil {
			conn.Close()
			target.Close()
			pe.RemoteWrite = err
			pe.First = 3
			if logConnections {
				fmt.Printf("[!] tcp://%s-%s/%s local-fwd %serror: %s\n",
					conn.RemoteAddr(), conn.LocalAddr(), targetAddr, ppPrefix, pe)
			}
			return
		}
	}

	if logConnections {
		fmt.Printf("[+] tcp://%s-%s/%s-%s local-fwd %sconn\n",
			conn.RemoteAddr(),
			conn.LocalAddr(),
			target.LocalAddr(),
			targetAddr,
			ppPrefix)
	}

	pe = connSplice(conn, target)

	if logConnections {
		fmt.Printf("[-] tcp://%s-%s/%s-%s local-fwd %sdone: %s\n",
			conn.RemoteAddr(),
			conn.LocalAddr(),
			target.LocalAddr(),
			targetAddr,
			ppPrefix,
			pe)
	}
}
