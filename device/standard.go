package device

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/pkg"
)

// Standard request codes (USB 2.0 Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
)

// DeviceState is the USB device state visible to the standard handler.
type DeviceState uint8

// Device states (USB 2.0 section 9.1.1). Attached and powered are implied by
// the handler existing at all.
const (
	DeviceStateDefault DeviceState = iota
	DeviceStateAddress
	DeviceStateConfigured
)

// String returns the state name.
func (s DeviceState) String() string {
	switch s {
	case DeviceStateAddress:
		return "address"
	case DeviceStateConfigured:
		return "configured"
	default:
		return "default"
	}
}

// Standard answers the standard chapter 9 requests for the badge's single
// configuration. Register it before class handlers; it ignores everything
// that is not a standard request.
type Standard struct {
	id Identity

	mutex   sync.Mutex
	address uint8
	config  uint8
}

// NewStandard returns a standard request handler enumerating as id.
func NewStandard(id Identity) *Standard {
	return &Standard{id: id}
}

// State returns the current device state.
func (s *Standard) State() DeviceState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch {
	case s.config != 0:
		return DeviceStateConfigured
	case s.address != 0:
		return DeviceStateAddress
	default:
		return DeviceStateDefault
	}
}

// Address returns the address assigned by the host.
func (s *Standard) Address() uint8 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.address
}

// ControlIn answers GET_DESCRIPTOR, GET_STATUS, GET_CONFIGURATION and
// GET_INTERFACE.
func (s *Standard) ControlIn(_ context.Context, setup *hal.SetupPacket, buf []byte) (Response, int) {
	if !setup.IsStandard() {
		return Ignored, 0
	}

	switch setup.Request {
	case RequestGetDescriptor:
		if setup.Recipient() != hal.RequestRecipientDevice {
			return Rejected, 0
		}
		return s.getDescriptor(setup, buf)

	case RequestGetStatus:
		if len(buf) < 2 {
			return Rejected, 0
		}
		// Bus powered, no remote wakeup, no halted endpoints: always zero.
		binary.LittleEndian.PutUint16(buf, 0)
		return Accepted, 2

	case RequestGetConfiguration:
		if len(buf) < 1 {
			return Rejected, 0
		}
		s.mutex.Lock()
		buf[0] = s.config
		s.mutex.Unlock()
		return Accepted, 1

	case RequestGetInterface:
		if len(buf) < 1 || setup.InterfaceNumber() != s.id.Interface || s.State() != DeviceStateConfigured {
			return Rejected, 0
		}
		buf[0] = 0
		return Accepted, 1
	}
	return Rejected, 0
}

// ControlOut answers SET_ADDRESS, SET_CONFIGURATION and SET_INTERFACE.
// Features are accepted and ignored; the badge has none to toggle.
func (s *Standard) ControlOut(_ context.Context, setup *hal.SetupPacket, _ []byte) Response {
	if !setup.IsStandard() {
		return Ignored
	}

	switch setup.Request {
	case RequestSetAddress:
		if setup.Value > 127 {
			return Rejected
		}
		s.mutex.Lock()
		s.address = uint8(setup.Value)
		if s.address == 0 {
			s.config = 0
		}
		s.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentStack, "address assigned", "address", setup.Value)
		return Accepted

	case RequestSetConfiguration:
		if setup.Value > 1 {
			return Rejected
		}
		s.mutex.Lock()
		s.config = uint8(setup.Value)
		s.mutex.Unlock()
		pkg.LogInfo(pkg.ComponentStack, "configuration set", "value", setup.Value)
		return Accepted

	case RequestSetInterface:
		if setup.InterfaceNumber() != s.id.Interface || setup.Value != 0 {
			return Rejected
		}
		return Accepted

	case RequestClearFeature, RequestSetFeature:
		return Accepted
	}
	return Rejected
}

// getDescriptor writes the descriptor named by wValue, truncated to buf.
func (s *Standard) getDescriptor(setup *hal.SetupPacket, buf []byte) (Response, int) {
	descType := uint8(setup.Value >> 8)
	descIndex := uint8(setup.Value)

	var scratch [maxStringDescriptor]byte
	var n int
	switch descType {
	case DescriptorTypeDevice:
		d := s.id.Descriptor()
		n = d.MarshalTo(scratch[:])

	case DescriptorTypeConfiguration:
		if descIndex != 0 {
			return Rejected, 0
		}
		n = s.id.ConfigurationTo(scratch[:])

	case DescriptorTypeString:
		if descIndex == 0 {
			n = LanguageDescriptorTo(scratch[:], LangIDUSEnglish)
			break
		}
		text, ok := s.id.StringAt(descIndex)
		if !ok {
			return Rejected, 0
		}
		n = StringDescriptorTo(scratch[:], text)

	default:
		pkg.LogDebug(pkg.ComponentStack, "unsupported descriptor", "type", descType)
		return Rejected, 0
	}
	if n == 0 {
		return Rejected, 0
	}
	return Accepted, copy(buf, scratch[:n])
}
