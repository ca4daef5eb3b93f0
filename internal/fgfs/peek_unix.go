//go:build unix

package fgfs

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// peerClosed performs a non-blocking, non-consuming read on the socket.
// A zero-byte result means the peer has shut down its side.
func peerClosed(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}

	// RawConn.Read refuses to run once the read deadline has passed.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return false
	}

	var closed bool
	peek := make([]byte, 1)
	ctrlErr := raw.Read(func(fd uintptr) bool {
		n, _, recvErr := unix.Recvfrom(int(fd), peek, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		closed = n == 0 && recvErr == nil
		return true
	})
	if ctrlErr != nil {
		return false
	}
	return closed
}
