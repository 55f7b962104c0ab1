package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"gopkg.in/netaddr.v1"
)

// Used when the routing table can't tell us anything. These are the
// gateways docker hands out to its first few bridge networks.
var fallbackBridgeIPs = []string{"172.17.0.1", "172.18.0.1", "172.19.0.1", "172.20.0.1"}

const defaultBridgeIP = "172.17.0.1"

func isBridgeLink(name string) bool {
	return name == "docker0" || strings.HasPrefix(name, "br-")
}

// DetectBridgeIPs returns the gateway addresses of the docker bridges
// on this host, or the fallback list when none can be found.
func DetectBridgeIPs() []net.IP {
	ips, err := FetchBridgeIPs()
	if err != nil {
		fmt.Printf("[!] Could not read routes: %s\n", err)
	}
	if len(ips) > 0 {
		return ips
	}
	fmt.Printf("[ ] No bridge found, using defaults %s\n", strings.Join(fallbackBridgeIPs, ", "))
	for _, s := range fallbackBridgeIPs {
		ips = append(ips, netParseIP(s))
	}
	return ips
}

// FetchBridgeIPs scans the "main" IPv4 routing table for routes on
// bridge devices, like
//
//	172.17.0.0/16 dev docker0 proto kernel scope link src 172.17.0.1
//
// and returns their preferred source addresses.
func FetchBridgeIPs() ([]net.IP, error) {
	fltr := netlink.Route{Table: unix.RT_TABLE_MAIN}
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &fltr, netlink.RT_FILTER_TABLE)
	if err != nil {
		return nil, err
	}

	names := make(map[int]string)
	for _, r := range routes {
		if _, ok := names[r.LinkIndex]; ok || r.LinkIndex == 0 {
			continue
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			continue
		}
		names[r.LinkIndex] = link.Attrs().Name
	}

	return bridgeIPsFromRoutes(routes, names, FetchLocalAddrs()), nil
}

// bridgeIPsFromRoutes picks the source addresses of routes going out
// bridge links. When local is non-nil, addresses not assigned to this
// host are dropped, since bind(2) would fail on them anyway.
func bridgeIPsFromRoutes(routes []netlink.Route, names map[int]string, local *netaddr.IPSet) []net.IP {
	var ips []net.IP
	seen := make(map[string]bool)
	for _, r := range routes {
		if r.Src == nil || !isBridgeLink(names[r.LinkIndex]) {
			continue
		}
		ip := r.Src.To4()
		if ip == nil || seen[ip.String()] {
			continue
		}
		if local != nil && !local.Contains(ip) {
			continue
		}
		seen[ip.String()] = true
		ips = append(ips, ip)
	}
	return ips
}

// FetchLocalAddrs loads the "local" routing table, which lists every
// address assigned to this host. Returns nil when it can't be read.
func FetchLocalAddrs() *netaddr.IPSet {
	fltr := netlink.Route{Table: unix.RT_TABLE_LOCAL}
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &fltr, netlink.RT_FILTER_TABLE)
	if err != nil {
		return nil
	}

	ipset := netaddr.IPSet{}
	for _, r := range routes {
		if r.Dst != nil && r.Type == unix.RTN_LOCAL {
			ipset.InsertNet(r.Dst)
		}
	}
	return &ipset
}
