// Package device runs the control endpoint of the badge's USB function.
//
// The badge exposes one vendor interface and talks to the host only through
// control transfers on EP0. [Control] reads SETUP packets from a
// [hal.ControlHAL], collects the OUT data stage, and offers each request to
// the registered [ControlHandler] values in order:
//
//	ctl := device.NewControl(h, device.WithCallbackTimeout(50*time.Millisecond))
//	ctl.Register(handler)
//	go ctl.Run(ctx)
//
// The first handler that does not answer [Ignored] owns the request.
// [Accepted] completes it, sending the IN data stage or the OUT status stage.
// [Rejected] requests, and requests no handler claims, stall EP0.
//
// Each callback receives a context bounded by the callback timeout. Handlers
// must never wait on a lock or queue past that deadline; the host is waiting
// on the status stage.
package device
