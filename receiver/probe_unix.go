//go:build unix

package receiver

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peekConnected peeks one byte without blocking. A zero-byte result means the
// socket is readable without data, i.e. the peer has closed.
func peekConnected(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return true
	}

	rc, err := sc.SyscallConn()
	if err != nil {
		return false
	}

	connected := true
	var buf [1]byte
	ctrlErr := rc.Control(func(fd uintptr) {
		n, _, err := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case err == nil:
			connected = n > 0
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			connected = true
		default:
			connected = false
		}
	})
	if ctrlErr != nil {
		return false
	}

	return connected
}
