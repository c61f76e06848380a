//go:build linux

package ping

import (
	"fmt"
	"syscall"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type netlinkBinder struct{}

func platformBinder() Binder {
	return netlinkBinder{}
}

func (netlinkBinder) Supported() bool { return true }

func (netlinkBinder) Check(iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", iface, err)
	}
	if link.Attrs().OperState == netlink.OperDown {
		return fmt.Errorf("interface %s is down", iface)
	}
	return nil
}

func (netlinkBinder) Control(iface string) func(string, string, syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
		})
		if err != nil {
			return err
		}
		if sockErr != nil {
			return fmt.Errorf("SO_BINDTODEVICE %s: %w", iface, sockErr)
		}
		return nil
	}
}
