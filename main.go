package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const defaultPort = "50001"

var logConnections = true

type Config struct {
	netNsPath     string
	bindIPs       IPSliceFlag
	detectBridges bool
	target        string
	localFwd      FwdAddrSlice
	kaInterval    time.Duration
	quiet         bool
}

func parseFlags(args []string) (*Config, error) {
	var c Config
	fs := flag.NewFlagSet("bridgefwd", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] [[bind_address:]port[:host:hostport] ...]\n", fs.Name())
		fs.PrintDefaults()
	}
	fs.StringVar(&c.netNsPath, "netns", "", "path to network namespace to listen in")
	fs.Var(&c.bindIPs, "bind", "bridge address to listen on (default "+defaultBridgeIP+")")
	fs.BoolVar(&c.detectBridges, "detect-bridges", false, "listen on every docker bridge gateway address")
	fs.StringVar(&c.target, "target", "127.0.0.1", "host to forward connections to")
	fs.Var(&c.localFwd, "L", "Additional forward [bind_address:]port[:host:hostport]")
	fs.DurationVar(&c.kaInterval, "keepalive", 0, "TCP keepalive interval on both sides, 0 disables")
	fs.BoolVar(&c.quiet, "quiet", false, "Print less stuff on screen")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for _, a := range fs.Args() {
		if err := c.localFwd.Set(a); err != nil {
			return nil, err
		}
	}
	if len(c.localFwd) == 0 {
		c.localFwd.Set(defaultPort)
	}
	if c.detectBridges && len(c.bindIPs) > 0 {
		return nil, fmt.Errorf("-bind and -detect-bridges are exclusive")
	}
	return &c, nil
}

func main() {
	status := Main()
	os.Exit(status)
}

type State struct {
	kaInterval time.Duration
	listeners  []Listener
}

func Main() int {
	return Run(os.Args[1:])
}

func Run(args []string) int {
	cfg, err := parseFlags(args)
	if err == flag.ErrHelp {
		return 0
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "[!] %s\n", err)
		return 2
	}

	if cfg.quiet {
		logConnections = false
	}
	state := &State{kaInterval: cfg.kaInterval}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var failed int
	open := func() {
		binds := []net.IP(cfg.bindIPs)
		switch {
		case cfg.detectBridges:
			binds = DetectBridgeIPs()
		case len(binds) == 0:
			binds = []net.IP{netParseIP(defaultBridgeIP)}
		}

		fwds, err := cfg.localFwd.Expand(binds, cfg.target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[!] %s\n", err)
			failed++
			return
		}

		for _, lf := range fwds {
			srv, err := LocalForwardTCP(state, lf)
			if err != nil {
				msg := fmt.Sprintf("[!] Failed to listen on %s://%s: %s\n",
					lf.network, lf.bind, err)
				fmt.Print(msg)
				fmt.Fprint(os.Stderr, msg)
				failed++
				continue
			}
			state.listeners = append(state.listeners, srv)
			fmt.Printf("[+] local-fwd Local listen %s://%s -> %s\n",
				srv.Addr().Network(), srv.Addr(), lf.host)
		}
	}

	if cfg.netNsPath != "" {
		fmt.Printf("[.] Joining netns %s\n", cfg.netNsPath)
		if err := joinNetNS(cfg.netNsPath, open); err != nil {
			fmt.Fprintf(os.Stderr, "[!] Can't join netns %s: %s\n", cfg.netNsPath, err)
			return 1
		}
	} else {
		open()
	}

	// Explicit bind addresses must all work. Discovered ones are
	// best effort, as long as at least one listens.
	if len(state.listeners) == 0 || (failed > 0 && !cfg.detectBridges) {
		for _, l := range state.listeners {
			l.Close()
		}
		return 1
	}

	fmt.Printf("[+] #%d Started %d listener(s)\n", syscall.Getpid(), len(state.listeners))

	sig := <-sigCh
	signal.Reset(sig)
	fmt.Printf("[-] Closing\n")
	for _, l := range state.listeners {
		l.Close()
	}
	return 0
}
