//go:build !unix

package fgfs

import "net"

// peerClosed is not available without MSG_PEEK; a half-closed peer is
// detected by the next read returning io.EOF instead.
func peerClosed(_ net.Conn) bool {
	return false
}
