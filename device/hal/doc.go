// Package hal defines the control endpoint abstraction the badge's USB
// handler runs on.
//
// A [ControlHAL] moves SETUP packets and EP0 data stages between the device
// controller and [github.com/ardnew/sysbadge/device.Control]. The
// [github.com/ardnew/sysbadge/device/hal/loopback] package implements it in
// process so the firmware core and a host client can talk without hardware.
package hal
