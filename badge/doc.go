// Package badge is the on-device user interface: the menu state machine,
// its wire encoding, screen rendering and the redraw loop.
//
// A [Badge] owns the active roster and the [CurrentMenu]. Button presses
// arrive through [Buttons], a one-slot queue shared by the physical buttons
// and USB injection, and are applied by a [Runner]:
//
//	b, _ := badge.New(panel, reader, badge.Info{Version: "0.3.0"})
//	buttons := badge.NewButtons()
//	runner := badge.NewRunner(b, buttons)
//	go runner.Run(ctx)
//
// Panel flushes are slow, so [Badge.Draw] repaints only when the checksum
// of the encoded menu differs from the one last flushed. The roster and menu
// lock is released before the flush, so USB requests are never held up by
// the panel.
package badge
