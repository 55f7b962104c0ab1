package main

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func init() {
	logConnections = false
}

// startEcho runs a TCP echo server on addr and returns its address.
func startEcho(t *testing.T, addr string) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleEcho(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

func handleEcho(conn net.Conn) {
	var buf [4096]byte
	for {
		n, err := conn.Read(buf[:])
		if err != nil {
			break
		}
		_, err = conn.Write(buf[:n])
		if err != nil {
			break
		}
	}
	conn.Close()
}

// startTarget listens on addr and delivers accepted connections on
// the returned channel.
func startTarget(t *testing.T, addr string) (*net.TCPAddr, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			ch <- conn
		}
	}()
	return ln.Addr().(*net.TCPAddr), ch
}

func acceptTarget(t *testing.T, ch <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case conn := <-ch:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("target never saw a connection")
	}
	return nil
}

// closedPort returns a loopback port nobody listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// startForward parses spec as a forward and starts listening on it.
func startForward(t *testing.T, state *State, spec string) Listener {
	t.Helper()
	var f FwdAddrSlice
	require.NoError(t, f.Set(spec))
	fwds, err := f.Expand(nil, "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, fwds, 1)

	srv, err := LocalForwardTCP(state, fwds[0])
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, n)
	off := 0
	for off < n {
		m, err := conn.Read(buf[off:])
		require.NoError(t, err)
		off += m
	}
	return buf
}

// requireClosed waits for the peer of conn to go away.
func requireClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var buf [16]byte
	for {
		_, err := conn.Read(buf[:])
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.Fatal("connection was not closed in time")
		}
		return
	}
}

// startSRVServer serves SRV records on a loopback UDP port. records
// maps a fully qualified name to "host:port".
func startSRVServer(t *testing.T, records map[string]string) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Compress = false

		q := r.Question[0]
		v, ok := records[q.Name]
		if !ok || q.Qtype != dns.TypeSRV {
			m.Rcode = dns.RcodeNameError
			w.WriteMsg(m)
			return
		}
		host, port, _ := net.SplitHostPort(v)
		rr, err := dns.NewRR(fmt.Sprintf("%s 0 IN SRV 1 1 %s %s.", q.Name, port, host))
		if err == nil {
			m.Answer = append(m.Answer, rr)
		}
		w.WriteMsg(m)
	}

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(handler)}
	go srv.ActivateAndServe()
	t.Cleanup(func() {
		srv.Shutdown()
		pc.Close()
	})
	return pc.LocalAddr().(*net.UDPAddr).Port
}
