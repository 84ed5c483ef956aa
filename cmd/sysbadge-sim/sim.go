package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/sysbadge/badge"
	"github.com/ardnew/sysbadge/device"
	"github.com/ardnew/sysbadge/device/class/sysbadge"
	"github.com/ardnew/sysbadge/device/hal/loopback"
	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/flash"
	"github.com/ardnew/sysbadge/host"
	"github.com/ardnew/sysbadge/internal/config"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
	"github.com/ardnew/sysbadge/roster"
)

const component = pkg.ComponentSim

// version is the firmware version reported by the simulated badge.
var version = "0.3.0-sim"

// release is version as the BCD bcdDevice of the device descriptor.
const release = 0x0030

// sim is one simulated badge and the host connected to it.
type sim struct {
	cfg     *config.Config
	mem     *flash.Memory
	fb      *display.Framebuffer
	badge   *badge.Badge
	buttons *badge.Buttons
	runner  *badge.Runner
	updater *flash.Updater
	control *device.Control
	std     *device.Standard
	pipe    *loopback.Host
	client  *host.Client

	reboots chan protocol.BootSel
}

// boot brings up the firmware core with sys programmed into the roster
// region. A nil sys leaves the region erased and the badge on its invalid
// screen.
func boot(ctx context.Context, cfg *config.Config, sys *roster.Owned, progress host.Progress) (*sim, error) {
	region := cfg.Region()
	mem := flash.NewMemory(cfg.Geometry(), flash.WithJEDECID(cfg.Flash.JEDECID))
	guard := flash.NewGuard(mem)

	if err := program(ctx, mem, region, sys); err != nil {
		return nil, err
	}
	active := mount(guard, region)

	info := badge.Info{
		Version: version,
		Serial:  cfg.Badge.Serial,
		Matrix:  cfg.Badge.Matrix,
		Web:     cfg.Badge.Web,
	}
	if info.Serial == "" {
		id, err := guard.UniqueID(ctx)
		if err != nil {
			return nil, err
		}
		info.Serial = fmt.Sprintf("%016X", id)
	}

	fb := display.NewFramebuffer(cfg.Display.Width, cfg.Display.Height)
	b, err := badge.New(fb, active, info)
	if err != nil {
		return nil, err
	}

	s := &sim{
		cfg:     cfg,
		mem:     mem,
		fb:      fb,
		badge:   b,
		buttons: badge.NewButtons(),
		updater: flash.NewUpdater(guard, region),
		reboots: make(chan protocol.BootSel, 1),
	}
	s.runner = badge.NewRunner(b, s.buttons, badge.WithDebounce(cfg.Badge.Debounce))

	dev, transport := loopback.New(cfg.USB.Interface)
	s.pipe = transport
	s.std = device.NewStandard(device.Identity{
		Manufacturer: cfg.USB.Manufacturer,
		Product:      cfg.USB.Product,
		Serial:       info.Serial,
		Interface:    cfg.USB.Interface,
		Release:      release,
	})
	s.control = device.NewControl(dev, device.WithCallbackTimeout(cfg.USB.CallbackTimeout))
	s.control.Register(s.std)
	s.control.Register(sysbadge.New(b, s.buttons, guard, s.updater,
		sysbadge.WithInterface(cfg.USB.Interface),
		sysbadge.WithWaker(s.runner.Wake),
		sysbadge.WithRebooter(sysbadge.RebooterFunc(s.reboot)),
	))

	opts := []host.Option{}
	if progress != nil {
		opts = append(opts, host.WithProgress(progress))
	}
	s.client = host.New(transport, opts...)
	return s, nil
}

// program writes sys straight into flash, as a programmer would before first
// boot.
func program(ctx context.Context, mem *flash.Memory, region flash.Region, sys *roster.Owned) error {
	if sys == nil {
		return nil
	}
	blob, err := sys.ToBytes(region.Base)
	if err != nil {
		return err
	}
	if uint32(len(blob)) > region.Size {
		return fmt.Errorf("roster of %d bytes exceeds region %v: %w", len(blob), region, pkg.ErrTooLarge)
	}
	return mem.Write(ctx, region.Offset, blob)
}

// mount opens the roster region the way the firmware does at power on. An
// erased or corrupt region yields no roster, leaving the badge on its
// invalid system screen.
func mount(guard *flash.Guard, region flash.Region) roster.System {
	view, err := guard.Map(region)
	if err != nil {
		pkg.LogWarn(component, "roster region unmapped", "region", region, "error", err)
		return nil
	}
	r, err := roster.Open(view, region.Base)
	if err != nil {
		pkg.LogWarn(component, "no valid roster in flash", "error", err)
		return nil
	}
	return r
}

// run starts the badge tasks. It returns when ctx is done or a task fails.
func (s *sim) run(ctx context.Context) error {
	errs := make(chan error, 3)
	go func() { errs <- s.runner.Run(ctx) }()
	go func() { errs <- s.updater.Run(ctx) }()
	go func() { errs <- s.control.Run(ctx) }()

	var first error
	for range 3 {
		err := <-errs
		if err != nil && !errors.Is(err, context.Canceled) && first == nil {
			first = err
		}
	}
	return first
}

func (s *sim) reboot(target protocol.BootSel, mask uint32) error {
	pkg.LogInfo(component, "reboot requested", "target", target.String(), "mask", mask)
	select {
	case s.reboots <- target:
	default:
	}
	return nil
}

// enumerate plays the host's part of attaching the badge.
func (s *sim) enumerate(ctx context.Context) (host.DeviceInfo, error) {
	info, err := host.Enumerate(ctx, s.pipe)
	if err != nil {
		return info, err
	}
	if info.Interface != s.cfg.USB.Interface {
		return info, fmt.Errorf("vendor interface %d, client addresses %d: %w",
			info.Interface, s.cfg.USB.Interface, pkg.ErrProtocolMismatch)
	}
	return info, nil
}

// upload sends sys through the USB update sequence.
func (s *sim) upload(ctx context.Context, sys *roster.Owned) error {
	blob, err := sys.ToBytes(s.cfg.Flash.Base)
	if err != nil {
		return err
	}
	return s.client.UploadSystem(ctx, blob, true)
}

// status summarizes the badge as seen from the host.
func (s *sim) status(ctx context.Context) string {
	m, err := s.client.State(ctx)
	if err != nil {
		return fmt.Sprintf("state: %v", err)
	}
	name, err := s.client.SystemName(ctx)
	if err != nil {
		name = "<" + err.Error() + ">"
	}
	return fmt.Sprintf("%s | menu %v | cursor %d/%d %v",
		name, m.Menu, m.Members.Cursor.Index, m.Members.Len, m.Members.Cursor.Mode)
}
