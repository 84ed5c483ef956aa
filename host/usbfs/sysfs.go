package usbfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// Default kernel paths.
const (
	SysfsUSBPath = "/sys/bus/usb/devices"
	DevfsUSBPath = "/dev/bus/usb"
)

// classVendor is bInterfaceClass of the badge's control interface.
const classVendor = 0xFF

// Badge is an attached badge as described by sysfs.
type Badge struct {
	SysfsPath string
	DevPath   string // usbfs node, /dev/bus/usb/BBB/DDD
	Bus       uint8
	Address   uint8

	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string

	// Interface is the vendor interface the control protocol is addressed to.
	Interface uint8
}

// String returns the bus location and serial.
func (b Badge) String() string {
	return fmt.Sprintf("bus %03d device %03d: %04x:%04x %s (serial %s)",
		b.Bus, b.Address, b.VendorID, b.ProductID, b.Product, b.Serial)
}

// Find lists the badges attached to this machine.
func Find() ([]Badge, error) {
	return Scan(SysfsUSBPath, DevfsUSBPath)
}

// Scan lists the badges under a sysfs device directory, naming their nodes
// under devfs. A configured badge without a vendor interface is skipped.
func Scan(sysfs, devfs string) ([]Badge, error) {
	entries, err := os.ReadDir(sysfs)
	if err != nil {
		return nil, err
	}

	var badges []Badge
	for _, entry := range entries {
		name := entry.Name()
		// Devices look like "1-1" or "1-1.2"; skip root hubs and
		// interfaces ("1-1:1.0").
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		b, err := parseDevice(filepath.Join(sysfs, name), devfs)
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "skipping sysfs device", "name", name, "error", err)
			continue
		}
		if b.VendorID != protocol.VID || b.ProductID != protocol.PID {
			continue
		}
		iface, ok := vendorInterface(b.SysfsPath)
		if !ok {
			pkg.LogDebug(pkg.ComponentHost, "badge has no vendor interface", "path", b.SysfsPath)
			continue
		}
		b.Interface = iface
		badges = append(badges, b)
	}
	return badges, nil
}

func parseDevice(path, devfs string) (Badge, error) {
	b := Badge{SysfsPath: path}

	var err error
	if b.Bus, err = readUint8(filepath.Join(path, "busnum")); err != nil {
		return b, err
	}
	if b.Address, err = readUint8(filepath.Join(path, "devnum")); err != nil {
		return b, err
	}
	b.DevPath = filepath.Join(devfs, fmt.Sprintf("%03d", b.Bus), fmt.Sprintf("%03d", b.Address))

	if b.VendorID, err = readHexUint16(filepath.Join(path, "idVendor")); err != nil {
		return b, err
	}
	if b.ProductID, err = readHexUint16(filepath.Join(path, "idProduct")); err != nil {
		return b, err
	}

	// Strings are absent when the device has none.
	b.Manufacturer, _ = readString(filepath.Join(path, "manufacturer"))
	b.Product, _ = readString(filepath.Join(path, "product"))
	b.Serial, _ = readString(filepath.Join(path, "serial"))
	return b, nil
}

// vendorInterface returns the lowest numbered vendor class interface of the
// device at path.
func vendorInterface(path string) (uint8, bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, false
	}

	prefix := filepath.Base(path) + ":"
	found := false
	var lowest uint8
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		ifacePath := filepath.Join(path, entry.Name())
		class, err := readHexUint8(filepath.Join(ifacePath, "bInterfaceClass"))
		if err != nil || class != classVendor {
			continue
		}
		number, err := readHexUint8(filepath.Join(ifacePath, "bInterfaceNumber"))
		if err != nil {
			continue
		}
		if !found || number < lowest {
			lowest, found = number, true
		}
	}
	return lowest, found
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

func readHex(path string, bitSize int) (uint64, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, bitSize)
}

func readHexUint8(path string) (uint8, error) {
	v, err := readHex(path, 8)
	return uint8(v), err
}

func readHexUint16(path string) (uint16, error) {
	v, err := readHex(path, 16)
	return uint16(v), err
}
