package main

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
)

// joinNetNS runs run on a thread that has entered the network
// namespace at nsPath. Sockets created by run stay in that namespace
// after it returns.
func joinNetNS(nsPath string, run func()) error {
	ch := make(chan error, 2)
	go func() {
		runtime.LockOSThread()
		ns, err := netns.GetFromPath(nsPath)
		if err != nil {
			runtime.UnlockOSThread()
			ch <- fmt.Errorf("opening net namespace %q: %w", nsPath, err)
			return
		}
		defer ns.Close()
		if err := netns.Set(ns); err != nil {
			runtime.UnlockOSThread()
			ch <- fmt.Errorf("joining net namespace %q: %w", nsPath, err)
			return
		}
		run()
		ch <- nil
	}()
	// Here is a big hack. Avoid restoring netns. Allow golang to
	// reap the thread, by not calling runtime.UnlockOSThread().

	err := <-ch
	return err
}
