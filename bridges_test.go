package main

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"gopkg.in/netaddr.v1"
)

func TestIsBridgeLink(t *testing.T) {
	require.True(t, isBridgeLink("docker0"))
	require.True(t, isBridgeLink("br-3f2a9c1e7b6d"))
	require.False(t, isBridgeLink("eth0"))
	require.False(t, isBridgeLink("docker1"))
	require.False(t, isBridgeLink(""))
}

func TestBridgeIPsFromRoutes(t *testing.T) {
	names := map[int]string{
		1: "lo",
		2: "eth0",
		3: "docker0",
		4: "br-0123456789ab",
		5: "br-deadbeef0000",
	}
	routes := []netlink.Route{
		{LinkIndex: 2, Dst: MustParseCIDR("10.0.0.0/24"), Src: net.ParseIP("10.0.0.5")},
		{LinkIndex: 3, Dst: MustParseCIDR("172.17.0.0/16"), Src: net.ParseIP("172.17.0.1")},
		{LinkIndex: 3, Dst: MustParseCIDR("172.30.0.0/16"), Src: net.ParseIP("172.17.0.1")},
		{LinkIndex: 4, Dst: MustParseCIDR("172.18.0.0/16"), Src: net.ParseIP("172.18.0.1")},
		{LinkIndex: 5, Dst: MustParseCIDR("172.19.0.0/16"), Src: net.ParseIP("172.19.0.1")},
		{LinkIndex: 4, Dst: MustParseCIDR("172.21.0.0/16")},
	}

	t.Run("no local filter", func(t *testing.T) {
		ips := bridgeIPsFromRoutes(routes, names, nil)
		require.Equal(t, []string{"172.17.0.1", "172.18.0.1", "172.19.0.1"}, ipStrings(ips))
	})

	t.Run("local filter", func(t *testing.T) {
		local := &netaddr.IPSet{}
		local.InsertNet(MustParseCIDR("172.17.0.1/32"))
		local.InsertNet(MustParseCIDR("172.19.0.1/32"))
		ips := bridgeIPsFromRoutes(routes, names, local)
		require.Equal(t, []string{"172.17.0.1", "172.19.0.1"}, ipStrings(ips))
	})

	t.Run("no bridges", func(t *testing.T) {
		require.Empty(t, bridgeIPsFromRoutes(routes[:1], names, nil))
	})
}

func MustParseCIDR(n string) *net.IPNet {
	_, r, err := net.ParseCIDR(n)
	if err != nil {
		panic(fmt.Sprintf("Unable to ParseCIDR %s = %s", n, err))
	}
	return r
}

func ipStrings(ips []net.IP) []string {
	var s []string
	for _, ip := range ips {
		s = append(s, ip.String())
	}
	return s
}
