// Command sysbadge talks to sysbadges attached over USB.
//
// It finds badges through sysfs, opens them with usbfs and speaks the
// badge's vendor control protocol: reading the loaded system, pressing
// buttons, rebooting into the bootloader and replacing the roster with the
// chunked update sequence.
//
// Usage:
//
//	sysbadge <command> [flags]
//
// Examples:
//
//	# Replace the roster with one written by hand
//	sysbadge upload kestrel.yaml
//
//	# Save the roster of a specific badge for drag-and-drop flashing
//	sysbadge download --serial E6614103E7452D2F kestrel.uf2
//
// Logs go to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return newApp(ctx, os.Stdout, os.Stderr).root().execute(os.Args[1:], os.Stderr)
}
