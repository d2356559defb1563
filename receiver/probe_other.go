//go:build !unix

package receiver

import (
	"net"
)

// peekConnected has no readiness check on this platform; disconnects are
// detected from the read result.
func peekConnected(net.Conn) bool {
	return true
}
