// Package usbfs reaches a real badge from Linux through the kernel's usbfs
// interface.
//
// Badges are found by walking sysfs for the badge VID:PID and its vendor
// class interface; [Open] then claims that interface on the device node and
// issues synchronous control transfers with the USBDEVFS_CONTROL ioctl. The
// opened [Device] satisfies both host.Transport and host.Pipe:
//
//	badges, err := usbfs.Find()
//	dev, err := usbfs.Open(badges[0])
//	defer dev.Close()
//	client := host.New(dev)
//
// The calling user needs write access to the node, usually granted with a
// udev rule matching the badge VID:PID. On other platforms Open fails with
// errors.ErrUnsupported; discovery still works against any sysfs-shaped tree.
package usbfs
