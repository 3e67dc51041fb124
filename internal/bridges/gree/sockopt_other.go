//go:build !unix

package gree

import "syscall"

// enableBroadcast is a no-op where the runtime already allows broadcast.
func enableBroadcast(_, _ string, _ syscall.RawConn) error {
	return nil
}
