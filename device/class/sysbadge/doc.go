// Package sysbadge implements the badge's vendor USB interface.
//
// Every request is a control transfer addressed to the interface. The
// handler answers each one without waiting: reads go straight to the
// flash-resident roster, button presses are offered to the one-slot button
// queue, and flash work is handed to a [flash.Updater] whose progress the
// host polls.
//
// # Roster update
//
//	OUT SystemUpload  wValue=1 erase, 0 region already blank
//	IN  SystemUpload  poll until ErasedForUpdate or ReadyForUpdate
//	OUT SystemDNLoad  wValue=offset, up to 64 bytes, 4-byte aligned
//	IN  SystemUpload  poll until Written, then the next chunk
//	OUT SystemDNLoad  no data: finalize
//
// Finalize opens the written region as a roster and swaps it in. If the
// region does not hold a valid roster the request stalls and the badge stays
// on the update screen; the host restarts with SystemUpload.
package sysbadge
