// Package host is the computer side of the badge's vendor USB interface.
//
// A [Client] wraps a [Transport], anything that can issue vendor control
// transfers to the badge's interface, and offers one method per request plus
// the full roster update sequence:
//
//	c := host.New(t, host.WithProgress(func(n, total int) {
//		fmt.Printf("%d/%d\n", n, total)
//	}))
//	blob, _ := system.ToBytes(0x10100000)
//	err := c.UploadSystem(ctx, blob, true)
//
// The badge answers every request immediately, so flash progress is observed
// by polling: [Client.WaitStatus] re-issues the status request with a delay
// that doubles up to the configured maximum.
//
// The in-process transport in device/hal/loopback connects a Client to the
// firmware core for tests and the simulator; [Enumerate] walks that pipe
// through the standard requests a real host would issue on attach. Attached
// hardware is reached through package usbfs.
package host
