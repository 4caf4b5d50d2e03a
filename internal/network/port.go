// File: internal/network/port.go
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// CheckPort fails when addr cannot be bound, typically because a previous
// harness is still running.
func CheckPort(ctx context.Context, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("can't start afterburner :(\n\n %w", err)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("port %s is in use. can't start afterburner :(", port)
		}
		return fmt.Errorf("can't start afterburner :(\n\n %w", err)
	}
	return ln.Close()
}
