// Package dblock serializes tests that share one DATABASE_URL. Packages run
// as separate processes under go test, so the lock is a loopback listener
// that only one process can hold at a time.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:45432"

// Addr is the lock address, overridable with DBLOCK_ADDR when two checkouts
// run their suites against different databases on the same host.
func Addr() string {
	if addr := os.Getenv("DBLOCK_ADDR"); addr != "" {
		return addr
	}
	return defaultAddr
}

// Acquire blocks until the lock is free and returns its release func.
func Acquire() func() {
	addr := Addr()
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
