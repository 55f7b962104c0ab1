package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

func SetResetOnClose(conn net.Conn) {
	switch v := conn.(type) {
	case *net.TCPConn:
		v.SetLinger(0)
	}
}

// The problem with standard net.ParseIP is that it can return
// ::ffff:x.x.x.x IPv4-mapped address. We don't like the lack of
// uniformity.
func netParseIP(h string) net.IP {
	ip := net.ParseIP(h)
	if ip == nil {
		return nil
	}
	if ip.To4() != nil {
		ip = ip.To4()
	}
	return ip
}

// simpleLookupHost resolves a host name, preferring IPv4.
func simpleLookupHost(resolver *net.Resolver, label string) (net.IP, error) {
	addrs, err := resolver.LookupHost(context.Background(), label)
	if err != nil {
		return nil, err
	}

	var ipv6 net.IP
	for _, addr := range addrs {
		ip := netParseIP(addr)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return ip, nil
		}
		if ipv6 == nil {
			ipv6 = ip
		}
	}
	if ipv6 == nil {
		return nil, fmt.Errorf("Empty dns reponse for %q", label)
	}
	return ipv6, nil
}

// lookupSRV asks the DNS server at dnsAddr for the SRV record of
// query and returns the first target and port.
func lookupSRV(query, dnsAddr string) (string, uint16, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(query), dns.TypeSRV)

	c := &dns.Client{Net: "udp", Timeout: 3 * time.Second}
	r, _, err := c.Exchange(m, dnsAddr)
	if err != nil {
		return "", 0, fmt.Errorf("SRV %q on %q: %w", query, dnsAddr, err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return "", 0, fmt.Errorf("SRV %q on %q: %s", query, dnsAddr, dns.RcodeToString[r.Rcode])
	}
	for _, rr := range r.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			return srv.Target, srv.Port, nil
		}
	}
	return "", 0, fmt.Errorf("Failed to lookup SRV %q on %q", query, dnsAddr)
}

// FullResolve attempts a DNS lookup on label and returns an IP.
// Optionally resolves the format 'label@srv-1234', which means to
// retrieve the target label and port from the SRV record served by
// DNS on localhost port 1234. Port is zero when not learned from SRV.
func FullResolve(label string) (net.IP, uint16, error) {
	port := uint16(0)
	p := strings.SplitN(label, "@", 2)
	if len(p) == 2 {
		srvQuery, dnsSrv := p[0], p[1]
		if !strings.HasPrefix(dnsSrv, "srv-") {
			return nil, 0, fmt.Errorf("Unknown dns type %q", dnsSrv)
		}
		dnsPort, err := strconv.ParseUint(dnsSrv[4:], 10, 16)
		if err != nil {
			return nil, 0, fmt.Errorf("Cant parse dns server port %q", dnsSrv[4:])
		}
		dnsSrvAddr := net.JoinHostPort("127.0.0.1", strconv.FormatUint(dnsPort, 10))

		target, servicePort, err := lookupSRV(srvQuery, dnsSrvAddr)
		if err != nil {
			return nil, 0, err
		}
		// For effective resolution, allowing to utilize
		// /etc/hosts, trim the trailing dot if present.
		label = strings.TrimSuffix(target, ".")
		port = servicePort
	}

	if ip := netParseIP(label); ip != nil {
		return ip, port, nil
	}
	ip, err := simpleLookupHost(net.DefaultResolver, label)
	if err != nil {
		return nil, 0, err
	}
	return ip, port, nil
}

// netParseOrResolveIP attempts to convert h to an IP address, otherwise performs DNS resolution.
func netParseOrResolveIP(h string) (_ip net.IP, _resolved bool, _err error) {
	ip := netParseIP(h)
	if ip != nil {
		return ip, false, nil
	}

	ip, _, err := FullResolve(h)
	if err != nil {
		return nil, true, err
	}
	return ip, true, nil
}
