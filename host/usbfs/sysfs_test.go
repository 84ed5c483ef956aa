package usbfs

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/sysbadge/host"
	"github.com/ardnew/sysbadge/protocol"
)

var (
	_ host.Transport = (*Device)(nil)
	_ host.Pipe      = (*Device)(nil)
)

// writeAttrs creates dir and one file per attribute.
func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, value := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644))
	}
}

func badgeAttrs(bus, dev string) map[string]string {
	return map[string]string{
		"busnum":       bus,
		"devnum":       dev,
		"idVendor":     fmt.Sprintf("%04x", protocol.VID),
		"idProduct":    fmt.Sprintf("%04x", protocol.PID),
		"manufacturer": "sysbadge",
		"product":      "sysbadge e-paper badge",
		"serial":       "E6614103E7452D2F",
	}
}

func TestScan(t *testing.T) {
	sysfs := t.TempDir()

	// A badge with its vendor interface on 1.
	writeAttrs(t, filepath.Join(sysfs, "1-1"), badgeAttrs("1", "7"))
	writeAttrs(t, filepath.Join(sysfs, "1-1", "1-1:1.0"), map[string]string{"bInterfaceNumber": "00", "bInterfaceClass": "03"})
	writeAttrs(t, filepath.Join(sysfs, "1-1", "1-1:1.1"), map[string]string{"bInterfaceNumber": "01", "bInterfaceClass": "ff"})

	// A badge that is not configured yet.
	writeAttrs(t, filepath.Join(sysfs, "1-2"), badgeAttrs("1", "8"))

	// Something else entirely, a root hub and an interface entry.
	other := badgeAttrs("2", "3")
	other["idProduct"] = "ffff"
	writeAttrs(t, filepath.Join(sysfs, "2-1"), other)
	writeAttrs(t, filepath.Join(sysfs, "usb1"), badgeAttrs("1", "1"))
	writeAttrs(t, filepath.Join(sysfs, "1-1:1.0"), map[string]string{"bInterfaceClass": "ff"})

	// Unparseable.
	writeAttrs(t, filepath.Join(sysfs, "3-1"), map[string]string{"busnum": "x"})

	badges, err := Scan(sysfs, "/dev/bus/usb")
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, Badge{
		SysfsPath:    filepath.Join(sysfs, "1-1"),
		DevPath:      "/dev/bus/usb/001/007",
		Bus:          1,
		Address:      7,
		VendorID:     protocol.VID,
		ProductID:    protocol.PID,
		Manufacturer: "sysbadge",
		Product:      "sysbadge e-paper badge",
		Serial:       "E6614103E7452D2F",
		Interface:    1,
	}, badges[0])
	assert.Equal(t, "bus 001 device 007: 33ff:4025 sysbadge e-paper badge (serial E6614103E7452D2F)", badges[0].String())
}

func TestScanMissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "absent"), DevfsUSBPath)
	assert.Error(t, err)
}
