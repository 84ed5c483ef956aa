package hal

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/sysbadge/pkg"
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F
)

// Request type bits.
const (
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
)

// SetupPacket is an 8-byte USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // bmRequestType: direction, type, recipient
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// VendorInterfaceRequest builds a vendor request addressed to an interface.
func VendorInterfaceRequest(in bool, request uint8, value, iface, length uint16) SetupPacket {
	rt := uint8(RequestTypeVendor | RequestRecipientInterface)
	if in {
		rt |= RequestDirectionDeviceToHost
	}
	return SetupPacket{RequestType: rt, Request: request, Value: value, Index: iface, Length: length}
}

// StandardDeviceRequest builds a standard request addressed to the device.
func StandardDeviceRequest(in bool, request uint8, value, index, length uint16) SetupPacket {
	rt := uint8(RequestTypeStandard | RequestRecipientDevice)
	if in {
		rt |= RequestDirectionDeviceToHost
	}
	return SetupPacket{RequestType: rt, Request: request, Value: value, Index: index, Length: length}
}

// ParseSetupPacket decodes 8 bytes into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo writes the packet to buf. Returns 8, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// IsDeviceToHost reports an IN transfer.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestTypeDirectionMask == RequestDirectionDeviceToHost
}

// IsVendor reports a vendor-specific request.
func (s *SetupPacket) IsVendor() bool {
	return s.RequestType&RequestTypeTypeMask == RequestTypeVendor
}

// IsStandard reports a standard request.
func (s *SetupPacket) IsStandard() bool {
	return s.RequestType&RequestTypeTypeMask == RequestTypeStandard
}

// Recipient returns the recipient bits of bmRequestType.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// IsInterfaceRecipient reports a request addressed to an interface.
func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.RequestType&RequestTypeRecipientMask == RequestRecipientInterface
}

// InterfaceNumber returns the interface number from wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 {
	return uint8(s.Index & 0xFF)
}

// String returns a human-readable representation of the packet.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	kind := "Standard"
	switch s.RequestType & RequestTypeTypeMask {
	case RequestTypeClass:
		kind = "Class"
	case RequestTypeVendor:
		kind = "Vendor"
	}
	return fmt.Sprintf("SETUP[%s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, kind, s.Request, s.Value, s.Index, s.Length)
}

// ControlHAL is the control endpoint (EP0) of a USB device controller. The
// badge exposes a single vendor interface, so nothing beyond EP0 is needed.
type ControlHAL interface {
	// ReadSetup blocks until a SETUP packet arrives or ctx is done.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// ReadEP0 reads the OUT data stage into buf. A zero-length buf reads the
	// status stage of an IN transfer.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// WriteEP0 sends the IN data stage. An empty data sends a zero-length packet.
	WriteEP0(ctx context.Context, data []byte) error

	// StallEP0 rejects the current control transfer.
	StallEP0() error

	// AckEP0 completes an OUT transfer with a zero-length status stage.
	AckEP0() error
}
