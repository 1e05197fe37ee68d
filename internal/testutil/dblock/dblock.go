// Package dblock serializes test packages that share the local Postgres
// database. Truncating tables from parallel packages corrupts each other's
// fixtures, so each TestMain holds the lock for the package's duration.
package dblock

import (
	"net"
	"time"
)

const lockAddr = "127.0.0.1:45439"

// Acquire blocks until the cross-process lock is held and returns a release
// function. The lock is a listening TCP socket, so it dies with the process.
func Acquire() func() {
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
