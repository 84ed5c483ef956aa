// Package protocol defines the vendor control-transfer vocabulary shared by
// the badge firmware and host tools.
package protocol

import (
	"fmt"

	"github.com/ardnew/sysbadge/pkg"
)

// USB identifiers of the badge.
const (
	VID uint16 = 0x33ff
	PID uint16 = 0x4025
)

// MaxChunk is the largest SystemDNLoad payload in bytes.
const MaxChunk = 64

// ChunkAlign is the required alignment of SystemDNLoad offsets and lengths.
const ChunkAlign = 4

// Request is a vendor bRequest code.
type Request uint8

// Vendor request codes.
const (
	RequestButtonPress       Request = 0x00 // OUT, wValue = button
	RequestGetSystemName     Request = 0x01 // IN, wValue = byte offset
	RequestGetMemberCount    Request = 0x02 // IN
	RequestGetMemberName     Request = 0x03 // IN, wValue = member index
	RequestGetMemberPronouns Request = 0x04 // IN, wValue = member index
	RequestGetState          Request = 0x05 // IN
	RequestSetState          Request = 0x06 // OUT, data = serialized menu state
	RequestUpdateDisplay     Request = 0x07 // OUT
	RequestGetVersion        Request = 0x08 // IN, wValue = VersionType
	RequestReboot            Request = 0x09 // OUT, wValue = BootSel
	RequestSystemUpload      Request = 0x0A // OUT starts (wValue 1 = erase), IN polls
	RequestSystemDNLoad      Request = 0x0B // OUT, wValue = offset, data = chunk
)

var requestNames = map[Request]string{
	RequestButtonPress:       "ButtonPress",
	RequestGetSystemName:     "GetSystemName",
	RequestGetMemberCount:    "GetMemberCount",
	RequestGetMemberName:     "GetMemberName",
	RequestGetMemberPronouns: "GetMemberPronouns",
	RequestGetState:          "GetState",
	RequestSetState:          "SetState",
	RequestUpdateDisplay:     "UpdateDisplay",
	RequestGetVersion:        "GetVersion",
	RequestReboot:            "Reboot",
	RequestSystemUpload:      "SystemUpload",
	RequestSystemDNLoad:      "SystemDNLoad",
}

// String returns the request name.
func (r Request) String() string {
	if s, ok := requestNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Request(0x%02x)", uint8(r))
}

// ParseRequest validates a raw bRequest.
func ParseRequest(b uint8) (Request, error) {
	r := Request(b)
	if _, ok := requestNames[r]; !ok {
		return 0, fmt.Errorf("request 0x%02x: %w", b, pkg.ErrInvalidRequest)
	}
	return r, nil
}

// VersionType selects the value returned by GetVersion.
type VersionType uint8

// Version selectors.
const (
	VersionJedec        VersionType = 0x00 // flash JEDEC id, u32 LE
	VersionUniqueID     VersionType = 0x01 // flash unique id, u64 LE
	VersionSerialNumber VersionType = 0x02 // serial string
	VersionSemVer       VersionType = 0x10 // firmware semantic version
	VersionMatrix       VersionType = 0x11 // build matrix
	VersionWeb          VersionType = 0x12 // companion web URL
)

// String returns the selector name.
func (v VersionType) String() string {
	switch v {
	case VersionJedec:
		return "jedec"
	case VersionUniqueID:
		return "unique-id"
	case VersionSerialNumber:
		return "serial"
	case VersionSemVer:
		return "semver"
	case VersionMatrix:
		return "matrix"
	case VersionWeb:
		return "web"
	default:
		return fmt.Sprintf("VersionType(0x%02x)", uint8(v))
	}
}

// ParseVersionType validates a raw selector.
func ParseVersionType(v uint16) (VersionType, error) {
	switch t := VersionType(v); {
	case v > 0xff:
	case t == VersionJedec, t == VersionUniqueID, t == VersionSerialNumber,
		t == VersionSemVer, t == VersionMatrix, t == VersionWeb:
		return t, nil
	}
	return 0, fmt.Errorf("version type 0x%x: %w", v, pkg.ErrInvalidRequest)
}

// BootSel is a Reboot target.
type BootSel uint8

// Reboot targets.
const (
	BootApplication BootSel = iota
	BootBootloader
	BootMassStorage
	BootPicoBoot
)

// DisableInterfaceMask returns the ROM bootloader mask disabling the other
// USB interfaces. Application has no mask and reports false.
func (b BootSel) DisableInterfaceMask() (uint32, bool) {
	switch b {
	case BootBootloader:
		return 0x0, true
	case BootMassStorage:
		return 0x2, true // disable PICOBOOT
	case BootPicoBoot:
		return 0x1, true // disable mass storage
	default:
		return 0, false
	}
}

// String returns the target name.
func (b BootSel) String() string {
	switch b {
	case BootApplication:
		return "application"
	case BootBootloader:
		return "bootloader"
	case BootMassStorage:
		return "mass-storage"
	case BootPicoBoot:
		return "picoboot"
	default:
		return fmt.Sprintf("BootSel(%d)", uint8(b))
	}
}

// ParseBootSel validates a raw Reboot target.
func ParseBootSel(v uint16) (BootSel, error) {
	if v > uint16(BootPicoBoot) {
		return 0, fmt.Errorf("boot target %d: %w", v, pkg.ErrInvalidRequest)
	}
	return BootSel(v), nil
}

// Button is a physical or injected badge button.
type Button uint8

// Buttons.
const (
	ButtonA Button = iota
	ButtonB
	ButtonC
	ButtonD
	ButtonUp
	ButtonDown
	ButtonUser
)

// String returns the button label.
func (b Button) String() string {
	switch b {
	case ButtonA:
		return "A"
	case ButtonB:
		return "B"
	case ButtonC:
		return "C"
	case ButtonD:
		return "D"
	case ButtonUp:
		return "Up"
	case ButtonDown:
		return "Down"
	case ButtonUser:
		return "USER"
	default:
		return fmt.Sprintf("Button(%d)", uint8(b))
	}
}

// ParseButton validates a raw button value.
func ParseButton(v uint16) (Button, error) {
	if v > uint16(ButtonUser) {
		return 0, fmt.Errorf("button %d: %w", v, pkg.ErrInvalidRequest)
	}
	return Button(v), nil
}

// SystemUpdateStatus is the single byte returned by a SystemUpload poll.
type SystemUpdateStatus uint8

// Update statuses.
const (
	StatusNotInUpdateMode SystemUpdateStatus = iota
	StatusErasing
	StatusErasedForUpdate
	StatusReadyForUpdate
	StatusWriting
	StatusWritten
	StatusEraseError
	StatusWriteError
)

// String returns the status name.
func (s SystemUpdateStatus) String() string {
	switch s {
	case StatusNotInUpdateMode:
		return "not in update mode"
	case StatusErasing:
		return "erasing"
	case StatusErasedForUpdate:
		return "erased"
	case StatusReadyForUpdate:
		return "ready"
	case StatusWriting:
		return "writing"
	case StatusWritten:
		return "written"
	case StatusEraseError:
		return "erase error"
	case StatusWriteError:
		return "write error"
	default:
		return fmt.Sprintf("SystemUpdateStatus(%d)", uint8(s))
	}
}

// Failed reports whether s ends the current update attempt with an error.
func (s SystemUpdateStatus) Failed() bool {
	return s == StatusEraseError || s == StatusWriteError
}

// Pending reports whether a flash operation is still running.
func (s SystemUpdateStatus) Pending() bool {
	return s == StatusErasing || s == StatusWriting
}

// Err converts a failed status into an error, nil otherwise.
func (s SystemUpdateStatus) Err() error {
	if !s.Failed() {
		return nil
	}
	return &pkg.UpdateError{Status: s.String()}
}
