package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Cached DNS answers for forward targets are reused for this long.
const dnsTTL = 5 * time.Second

/* Forward syntax, borrowed from ssh -L:

  [bind_address:]port
  [bind_address:]port:host:hostport

A missing bind_address means every bridge address. A missing host
means the default target. hostport 0 means the port the connection
arrived on.
*/
type FwdAddr struct {
	network       string
	bind          *defAddress
	host          *defAddress
	proxyProtocol bool
}

type FwdAddrSlice []FwdAddr

func (f *FwdAddrSlice) String() string {
	s := make([]string, 0, len(*f))
	for _, fa := range *f {
		s = append(s, fa.String())
	}
	return strings.Join(s, " ")
}

func (f *FwdAddrSlice) Set(value string) error {
	var (
		bindPort, bindIP string
		network          string
		rest             string
		hostIP, hostPort string
	)

	p := strings.SplitN(value, "://", 2)
	switch len(p) {
	case 2:
		network = p[0]
		rest = p[1]
	case 1:
		network = "tcp"
		rest = p[0]
	}

	var fwa FwdAddr
	switch network {
	case "tcppp":
		fwa.network = "tcp"
		fwa.proxyProtocol = true
	case "tcp":
		fwa.network = network
	default:
		return fmt.Errorf("unknown network type %q", network)
	}

	p = SplitHostPort(rest)
	switch len(p) {
	case 1:
		bindPort = p[0]
	case 2:
		bindIP = p[0]
		bindPort = p[1]
	case 3:
		bindPort = p[0]
		hostIP = p[1]
		hostPort = p[2]
	case 4:
		bindIP = p[0]
		bindPort = p[1]
		hostIP = p[2]
		hostPort = p[3]
	default:
		return fmt.Errorf("bad forward %q", value)
	}

	if bindPort == "" {
		return fmt.Errorf("bad forward %q: missing port", value)
	}

	bind, err := ParseDefAddress(bindIP, bindPort)
	if err != nil {
		return err
	}
	if bind.label != "" {
		return fmt.Errorf("bad forward %q: bind address must be an IP", value)
	}
	fwa.bind = bind

	if hostPort == "" {
		// in case only bindPort is set, and not hostPort, set the default:
		hostPort = bindPort
	}

	host, err := ParseDefAddress(hostIP, hostPort)
	if err != nil {
		return err
	}
	fwa.host = host

	*f = append(*f, fwa)
	return nil
}

// Expand returns one forward per bind address. Entries with an
// explicit bind address are kept as they are, the others are
// replicated for every address in binds. Entries with no host get
// target.
func (f FwdAddrSlice) Expand(binds []net.IP, target string) (FwdAddrSlice, error) {
	var out FwdAddrSlice
	for _, fa := range f {
		if !fa.host.IsSet() {
			host, err := ParseDefAddress(target, strconv.Itoa(fa.host.port))
			if err != nil {
				return nil, err
			}
			fa.host = host
		}
		if fa.bind.IsSet() {
			out = append(out, fa)
			continue
		}
		for _, ip := range binds {
			x := fa
			x.bind = &defAddress{static: ip, port: fa.bind.port}
			out = append(out, x)
		}
	}
	return out, nil
}

func (f *FwdAddr) String() string {
	network := f.network
	if f.proxyProtocol {
		network = "tcppp"
	}
	return fmt.Sprintf("%s://%s-%s", network, f.bind, f.host)
}

func (f *FwdAddr) BindAddr() (*net.TCPAddr, error) {
	x, err := f.bind.TCPAddr()
	if err != nil {
		return nil, fmt.Errorf("dns lookup error of tcp addr: %w", err)
	}
	return x, nil
}

func (f *FwdAddr) HostAddr() (*net.TCPAddr, error) {
	x, err := f.host.TCPAddr()
	if err != nil {
		return nil, fmt.Errorf("dns lookup error of tcp addr: %w", err)
	}
	return x, nil
}

// Deferred Address. Either just an IP, in which case 'static' is
// filled and we are done, or something we need to retrieve from DNS.
type defAddress struct {
	sync.Mutex

	// Static hardcoded IP OR previously retrieved one.
	static  net.IP
	port    int
	label   string
	fetched time.Time
	error   error
}

func ParseDefAddress(ipS string, portS string) (*defAddress, error) {
	da := &defAddress{}
	if ipS != "" {
		if ip := netParseIP(ipS); ip != nil {
			da.static = ip
		} else {
			da.label = ipS
		}
	}

	if portS != "" {
		port, err := strconv.ParseUint(portS, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad port %q: %w", portS, err)
		}
		da.port = int(port)
	}

	return da, nil
}

// IsSet reports whether an IP or a DNS label was given.
func (da *defAddress) IsSet() bool {
	return da.static != nil || da.label != ""
}

// Retrieve returns a static address or resolves the label in DNS.
func (da *defAddress) Retrieve() (net.IP, int, error) {
	if da.label == "" {
		return da.static, da.port, nil
	}

	da.Lock()
	defer da.Unlock()
	da.error = da.resolve()
	if da.error != nil {
		return nil, 0, da.error
	}
	return da.static, da.port, nil
}

// resolve performs a DNS resolution of label and populates static,
// or returns an error. May keep a cached result according to dnsTTL.
// Must be called with da locked.
func (da *defAddress) resolve() error {
	if da.static != nil && time.Since(da.fetched) <= dnsTTL {
		return nil // Use cached result
	}

	ip, port, err := FullResolve(da.label)
	if err != nil {
		return err
	}
	da.fetched = time.Now()
	da.static = ip
	if port != 0 {
		da.port = int(port)
	}
	return nil
}

// String returns host:port, or label-failed on DNS resolution failure.
func (da *defAddress) String() string {
	ip, port, err := da.Retrieve()
	if err != nil || ip == nil {
		return fmt.Sprintf("%s-failed", da.label)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

func (da *defAddress) TCPAddr() (*net.TCPAddr, error) {
	ip, port, err := da.Retrieve()
	if err != nil {
		return nil, err
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

func tcpAddrPort(a net.Addr) int {
	if v, ok := a.(*net.TCPAddr); ok {
		return v.Port
	}
	return 0
}

func tcpAddrSetPort(a *net.TCPAddr, port int) *net.TCPAddr {
	x := *a
	x.Port = port
	return &x
}

// SplitHostPort splits buf on colons outside of square brackets. The
// outermost pair of brackets is dropped, nested ones are kept.
func SplitHostPort(buf string) []string {
	sliceOfParts := make([]string, 0)
	part := make([]byte, 0)
	depth := 0
	for _, c := range []byte(buf) {
		switch {
		case c == '[':
			if depth > 0 {
				part = append(part, c)
			}
			depth++
		case c == ']' && depth > 0:
			depth--
			if depth > 0 {
				part = append(part, c)
			}
		case depth == 0 && c == ':':
			sliceOfParts = append(sliceOfParts, string(part))
			part = make([]byte, 0)
		default:
			part = append(part, c)
		}
	}
	sliceOfParts = append(sliceOfParts, string(part))
	return sliceOfParts
}

// Repeatable IP flag. Host names are resolved once, at parse time.
type IPSliceFlag []net.IP

func (f *IPSliceFlag) String() string {
	a := make([]string, 0, len(*f))
	for _, ip := range *f {
		a = append(a, ip.String())
	}
	return strings.Join(a, ",")
}

func (f *IPSliceFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		ip, _, err := netParseOrResolveIP(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*f = append(*f, ip)
	}
	return nil
}
