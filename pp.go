package main

import (
	"fmt"
	"net"
)

// EncodePP returns a PROXY protocol v1 header announcing a connection
// from src to dst. Mixed address families are sent as TCP6 with the
// IPv4 side mapped.
func EncodePP(src, dst *net.TCPAddr) []byte {
	if src.IP.To4() != nil && dst.IP.To4() != nil {
		return []byte(fmt.Sprintf("PROXY TCP4 %s %s %d %d\r\n",
			src.IP.To4(), dst.IP.To4(), src.Port, dst.Port))
	}
	return []byte(fmt.Sprintf("PROXY TCP6 %s %s %d %d\r\n",
		ppIPv6(src.IP), ppIPv6(dst.IP), src.Port, dst.Port))
}

// net.IP.String prints v4-mapped addresses in dotted form, which is
// not valid in a TCP6 line.
func ppIPv6(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return "::ffff:" + v4.String()
	}
	return ip.String()
}
