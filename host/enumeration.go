package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/sysbadge/device"
	"github.com/ardnew/sysbadge/device/hal"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// Enumeration errors.
var (
	ErrEnumerationFailed = errors.New("enumeration failed")
	ErrNotBadge          = errors.New("device is not a badge")
)

// DefaultAddress is the address Enumerate assigns.
const DefaultAddress = 1

// maxDescriptor bounds every descriptor read during enumeration.
const maxDescriptor = 255

// Pipe issues arbitrary control requests on the default pipe, as needed for
// enumeration. loopback.Host satisfies it along with Transport.
type Pipe interface {
	// Control issues setup with wLength len(data). IN requests fill data
	// and return the bytes received.
	Control(ctx context.Context, setup hal.SetupPacket, data []byte) (int, error)
}

// DeviceInfo is what enumeration learned about a badge.
type DeviceInfo struct {
	VendorID     uint16
	ProductID    uint16
	Release      uint16 // BCD
	Manufacturer string
	Product      string
	Serial       string

	Configuration uint8
	Interface     uint8 // vendor interface number
	InterfaceName string
}

// String returns a one-line summary.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%04x:%04x %s %s (serial %s, interface %d)",
		d.VendorID, d.ProductID, d.Manufacturer, d.Product, d.Serial, d.Interface)
}

// Enumerate runs the enumeration sequence against a freshly attached badge:
// it reads the device descriptor, assigns DefaultAddress, reads the
// configuration and strings, then selects the configuration. The vendor
// interface found in the configuration is the one a Client must address.
func Enumerate(ctx context.Context, p Pipe) (DeviceInfo, error) {
	pkg.LogDebug(pkg.ComponentHost, "starting enumeration")

	var buf [maxDescriptor]byte
	var info DeviceInfo

	// The first 8 bytes carry bMaxPacketSize0.
	n, err := getDescriptor(ctx, p, device.DescriptorTypeDevice, 0, buf[:8])
	if err != nil {
		return info, err
	}
	if n < 8 {
		return info, fmt.Errorf("device descriptor prefix of %d bytes: %w", n, ErrEnumerationFailed)
	}
	pkg.LogDebug(pkg.ComponentHost, "got max packet size", "size", buf[7])

	setAddr := hal.StandardDeviceRequest(false, device.RequestSetAddress, DefaultAddress, 0, 0)
	if _, err := p.Control(ctx, setAddr, nil); err != nil {
		return info, fmt.Errorf("set address: %w", err)
	}

	n, err = getDescriptor(ctx, p, device.DescriptorTypeDevice, 0, buf[:device.DeviceDescriptorSize])
	if err != nil {
		return info, err
	}
	var dev device.DeviceDescriptor
	if err := device.ParseDeviceDescriptor(buf[:n], &dev); err != nil {
		return info, err
	}
	if dev.VendorID != protocol.VID || dev.ProductID != protocol.PID {
		return info, fmt.Errorf("%04x:%04x: %w", dev.VendorID, dev.ProductID, ErrNotBadge)
	}
	info.VendorID, info.ProductID, info.Release = dev.VendorID, dev.ProductID, dev.DeviceVersion

	// Configuration header first for wTotalLength, then the whole tree.
	n, err = getDescriptor(ctx, p, device.DescriptorTypeConfiguration, 0, buf[:device.ConfigurationDescriptorSize])
	if err != nil {
		return info, err
	}
	var cfg device.ConfigurationDescriptor
	if err := device.ParseConfigurationDescriptor(buf[:n], &cfg); err != nil {
		return info, err
	}
	total := min(int(cfg.TotalLength), len(buf))
	if n, err = getDescriptor(ctx, p, device.DescriptorTypeConfiguration, 0, buf[:total]); err != nil {
		return info, err
	}
	iface, err := findVendorInterface(buf[:n])
	if err != nil {
		return info, err
	}
	info.Configuration = cfg.ConfigurationValue
	info.Interface = iface.InterfaceNumber

	// Strings are informational; a failure leaves them empty.
	readString := func(index uint8) string {
		if index == 0 {
			return ""
		}
		s, err := getString(ctx, p, index, buf[:])
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "string descriptor read failed", "index", index, "error", err)
		}
		return s
	}
	info.Manufacturer = readString(dev.ManufacturerIndex)
	info.Product = readString(dev.ProductIndex)
	info.Serial = readString(dev.SerialNumberIndex)
	info.InterfaceName = readString(iface.InterfaceIndex)

	setCfg := hal.StandardDeviceRequest(false, device.RequestSetConfiguration, uint16(cfg.ConfigurationValue), 0, 0)
	if _, err := p.Control(ctx, setCfg, nil); err != nil {
		return info, fmt.Errorf("set configuration: %w", err)
	}

	pkg.LogInfo(pkg.ComponentHost, "badge enumerated",
		"device", fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID),
		"serial", info.Serial,
		"interface", info.Interface)
	return info, nil
}

func getDescriptor(ctx context.Context, p Pipe, descType, index uint8, buf []byte) (int, error) {
	setup := hal.StandardDeviceRequest(true, device.RequestGetDescriptor, uint16(descType)<<8|uint16(index), 0, 0)
	n, err := p.Control(ctx, setup, buf)
	if err != nil {
		return 0, fmt.Errorf("get descriptor 0x%02x/%d: %w", descType, index, err)
	}
	return n, nil
}

func getString(ctx context.Context, p Pipe, index uint8, buf []byte) (string, error) {
	setup := hal.StandardDeviceRequest(true, device.RequestGetDescriptor,
		uint16(device.DescriptorTypeString)<<8|uint16(index), device.LangIDUSEnglish, 0)
	n, err := p.Control(ctx, setup, buf)
	if err != nil {
		return "", err
	}
	return device.ParseStringDescriptor(buf[:n])
}

// findVendorInterface walks a configuration tree for the first vendor class
// interface.
func findVendorInterface(tree []byte) (device.InterfaceDescriptor, error) {
	var iface device.InterfaceDescriptor
	for off := 0; off+2 <= len(tree); {
		length := int(tree[off])
		if length < 2 || off+length > len(tree) {
			break
		}
		if tree[off+1] == device.DescriptorTypeInterface {
			if err := device.ParseInterfaceDescriptor(tree[off:off+length], &iface); err == nil &&
				iface.InterfaceClass == device.ClassVendor {
				return iface, nil
			}
		}
		off += length
	}
	return iface, fmt.Errorf("no vendor interface: %w", ErrEnumerationFailed)
}
