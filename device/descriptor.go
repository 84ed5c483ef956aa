package device

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// USB descriptor types (USB 2.0 Table 9-5).
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
)

// Class codes used by the badge.
const (
	ClassPerInterface = 0x00
	ClassVendor       = 0xFF
)

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
)

// LangIDUSEnglish is the only language the badge reports strings in.
const LangIDUSEnglish = 0x0409

// maxStringDescriptor is the largest descriptor bLength can describe.
const maxStringDescriptor = 255

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DeviceDescriptor is the 18-byte USB device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // BCD
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // BCD
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo serializes the descriptor to buf. Returns 18, or 0 if buf is too
// small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor decodes a device descriptor into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkDescriptor(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	out.USBVersion = binary.LittleEndian.Uint16(data[2:4])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:10])
	out.ProductID = binary.LittleEndian.Uint16(data[10:12])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:14])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// ConfigurationDescriptor is the 9-byte configuration header. TotalLength
// covers the header and every interface descriptor that follows it.
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// MarshalTo serializes the descriptor to buf. Returns 9, or 0 if buf is too
// small.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:4], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// ParseConfigurationDescriptor decodes a configuration header into out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if err := checkDescriptor(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return err
	}
	out.TotalLength = binary.LittleEndian.Uint16(data[2:4])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return nil
}

// InterfaceDescriptor is the 9-byte interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8 // excluding EP0
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// MarshalTo serializes the descriptor to buf. Returns 9, or 0 if buf is too
// small.
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = i.InterfaceNumber
	buf[3] = i.AlternateSetting
	buf[4] = i.NumEndpoints
	buf[5] = i.InterfaceClass
	buf[6] = i.InterfaceSubClass
	buf[7] = i.InterfaceProtocol
	buf[8] = i.InterfaceIndex
	return InterfaceDescriptorSize
}

// ParseInterfaceDescriptor decodes an interface descriptor into out.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if err := checkDescriptor(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return err
	}
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return nil
}

func checkDescriptor(data []byte, size int, kind uint8) error {
	if len(data) < size || int(data[0]) < size {
		return fmt.Errorf("descriptor type 0x%02x: %d bytes, want %d: %w", kind, len(data), size, pkg.ErrProtocolMismatch)
	}
	if data[1] != kind {
		return fmt.Errorf("descriptor type 0x%02x, want 0x%02x: %w", data[1], kind, pkg.ErrProtocolMismatch)
	}
	return nil
}

// StringDescriptorTo writes s as a UTF-16LE string descriptor, truncated to
// whole code units within 255 bytes. Returns the bytes written, or 0 if buf
// is too small.
func StringDescriptorTo(buf []byte, s string) int {
	enc, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return 0
	}
	if len(enc) > maxStringDescriptor-2 {
		enc = enc[:maxStringDescriptor-3]
		// Do not split a surrogate pair.
		if last := binary.LittleEndian.Uint16(enc[len(enc)-2:]); last >= 0xD800 && last < 0xDC00 {
			enc = enc[:len(enc)-2]
		}
	}
	length := 2 + len(enc)
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	copy(buf[2:], enc)
	return length
}

// ParseStringDescriptor decodes a UTF-16LE string descriptor.
func ParseStringDescriptor(data []byte) (string, error) {
	if len(data) < 2 || data[1] != DescriptorTypeString {
		return "", fmt.Errorf("string descriptor: %w", pkg.ErrProtocolMismatch)
	}
	n := min(int(data[0]), len(data))
	if n < 2 || n%2 != 0 {
		return "", fmt.Errorf("string descriptor of %d bytes: %w", n, pkg.ErrProtocolMismatch)
	}
	s, err := utf16le.NewDecoder().Bytes(data[2:n])
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// LanguageDescriptorTo writes string descriptor zero listing langIDs.
// Returns the bytes written, or 0 if buf is too small.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + len(langIDs)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+i*2:], id)
	}
	return length
}

// String descriptor indices of the badge.
const (
	StringManufacturer = 1
	StringProduct      = 2
	StringSerial       = 3
	StringInterface    = 4
)

// Identity holds the strings and numbers the badge enumerates with.
type Identity struct {
	Manufacturer string
	Product      string
	Serial       string
	Interface    uint8  // vendor interface number
	Release      uint16 // BCD device release
}

// Descriptor returns the badge's device descriptor.
func (id Identity) Descriptor() DeviceDescriptor {
	return DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       ClassPerInterface,
		MaxPacketSize0:    64,
		VendorID:          protocol.VID,
		ProductID:         protocol.PID,
		DeviceVersion:     id.Release,
		ManufacturerIndex: StringManufacturer,
		ProductIndex:      StringProduct,
		SerialNumberIndex: StringSerial,
		NumConfigurations: 1,
	}
}

// ConfigurationTo writes the single configuration: the header followed by
// one vendor interface with no endpoints beyond EP0. Returns the bytes
// written, or 0 if buf is too small.
func (id Identity) ConfigurationTo(buf []byte) int {
	const total = ConfigurationDescriptorSize + InterfaceDescriptorSize
	if len(buf) < total {
		return 0
	}
	cfg := ConfigurationDescriptor{
		TotalLength:        total,
		NumInterfaces:      1,
		ConfigurationValue: 1,
		Attributes:         ConfigAttrBusPowered,
		MaxPower:           50,
	}
	iface := InterfaceDescriptor{
		InterfaceNumber: id.Interface,
		InterfaceClass:  ClassVendor,
		InterfaceIndex:  StringInterface,
	}
	n := cfg.MarshalTo(buf)
	return n + iface.MarshalTo(buf[n:])
}

// StringAt returns the text of string descriptor index.
func (id Identity) StringAt(index uint8) (string, bool) {
	switch index {
	case StringManufacturer:
		return id.Manufacturer, true
	case StringProduct:
		return id.Product, true
	case StringSerial:
		return id.Serial, true
	case StringInterface:
		return "sysbadge", true
	default:
		return "", false
	}
}
