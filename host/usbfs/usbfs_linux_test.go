//go:build linux && !(mips || mipsle || mips64 || mips64le || ppc64 || ppc64le)

package usbfs

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"unsafe"
)

func TestIoctlNumbers(t *testing.T) {
	want := uintptr(0xC0105500) // 32-bit pointers
	if unsafe.Sizeof(uintptr(0)) == 8 {
		want = 0xC0185500
	}
	if ioctlControl != want {
		t.Errorf("USBDEVFS_CONTROL = %#x, want %#x", ioctlControl, want)
	}
	if ioctlClaimInterface != 0x8004550F {
		t.Errorf("USBDEVFS_CLAIMINTERFACE = %#x, want 0x8004550f", ioctlClaimInterface)
	}
	if ioctlReleaseInterface != 0x80045510 {
		t.Errorf("USBDEVFS_RELEASEINTERFACE = %#x, want 0x80045510", ioctlReleaseInterface)
	}
}

func TestOpenMissingNode(t *testing.T) {
	_, err := Open(Badge{DevPath: filepath.Join(t.TempDir(), "001", "009")})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open() error = %v, want %v", err, fs.ErrNotExist)
	}
}
