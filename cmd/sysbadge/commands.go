package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/ardnew/sysbadge/host"
	"github.com/ardnew/sysbadge/host/usbfs"
	"github.com/ardnew/sysbadge/internal/config"
	"github.com/ardnew/sysbadge/internal/rosterfile"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

const component = pkg.ComponentHost

// ErrNoBadge is returned when no attached badge matches.
var ErrNoBadge = errors.New("no badge found")

// conn is an open badge.
type conn interface {
	host.Transport
	Close() error
}

// app holds what every command shares: output, discovery and the
// connection flags.
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer

	find func() ([]usbfs.Badge, error)
	open func(b usbfs.Badge, timeout time.Duration) (conn, error)

	configPath string
	serial     string
	timeout    time.Duration
	logLevel   string
}

func newApp(ctx context.Context, stdout, stderr io.Writer) *app {
	return &app{
		ctx:    ctx,
		stdout: stdout,
		stderr: stderr,
		find:   usbfs.Find,
		open: func(b usbfs.Badge, timeout time.Duration) (conn, error) {
			d, err := usbfs.Open(b, usbfs.WithTimeout(timeout))
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		timeout: usbfs.DefaultTimeout,
	}
}

// flagSet returns a flag set carrying the shared flags.
func (a *app) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file (default: $"+config.EnvVar+")")
	fs.StringVarP(&a.serial, "serial", "s", "", "select the badge with this serial number")
	fs.DurationVar(&a.timeout, "timeout", usbfs.DefaultTimeout, "per-transfer timeout")
	fs.StringVar(&a.logLevel, "log-level", "", "override the configured log level")
	return fs
}

func (a *app) root() *command {
	return &command{
		name:    "sysbadge",
		summary: "Inspect and update sysbadges attached over USB.",
		subcommands: []*command{
			a.listCommand(),
			a.infoCommand(),
			a.membersCommand(),
			a.stateCommand(),
			a.pressCommand(),
			a.drawCommand(),
			a.rebootCommand(),
			a.uploadCommand(),
			a.downloadCommand(),
		},
	}
}

// config loads the configuration and points logging at stderr.
func (a *app) config() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	pkg.SetLogLevel(cfg.LogLevel())
	pkg.SetLogOutput(a.stderr, cfg.LogFormat())
	return cfg, nil
}

// connect opens the one badge selected by --serial, or the only badge
// attached.
func (a *app) connect() (*host.Client, usbfs.Badge, func(), error) {
	badges, err := a.find()
	if err != nil {
		return nil, usbfs.Badge{}, nil, err
	}

	var matches []usbfs.Badge
	for _, b := range badges {
		if a.serial == "" || strings.EqualFold(b.Serial, a.serial) {
			matches = append(matches, b)
		}
	}
	switch {
	case len(matches) == 0 && a.serial != "":
		return nil, usbfs.Badge{}, nil, fmt.Errorf("serial %s: %w", a.serial, ErrNoBadge)
	case len(matches) == 0:
		return nil, usbfs.Badge{}, nil, ErrNoBadge
	case len(matches) > 1:
		return nil, usbfs.Badge{}, nil, fmt.Errorf("%d badges attached, select one with --serial", len(matches))
	}

	b := matches[0]
	c, err := a.open(b, a.timeout)
	if err != nil {
		return nil, b, nil, err
	}
	pkg.LogDebug(component, "connected", "badge", b.String())
	closeFn := func() {
		if err := c.Close(); err != nil {
			pkg.LogWarn(component, "close failed", "error", err)
		}
	}
	return host.New(c, host.WithProgress(a.progress)), b, closeFn, nil
}

func (a *app) progress(written, total int) {
	fmt.Fprintf(a.stderr, "\rwrote %d/%d bytes", written, total)
	if written == total {
		fmt.Fprintln(a.stderr)
	}
}

// withClient loads the configuration, connects and runs fn.
func (a *app) withClient(fn func(*host.Client, usbfs.Badge, *config.Config) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	c, b, closeFn, err := a.connect()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(c, b, cfg)
}

func noArgs(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument %q: %w", args[0], pkg.ErrInvalidParameter)
	}
	return nil
}

func (a *app) listCommand() *command {
	return &command{
		name:    "list",
		summary: "List attached badges",
		flags:   func() *pflag.FlagSet { return a.flagSet("list") },
		run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			if _, err := a.config(); err != nil {
				return err
			}
			badges, err := a.find()
			if err != nil {
				return err
			}
			if len(badges) == 0 {
				fmt.Fprintln(a.stdout, "no badges attached")
				return nil
			}
			for _, b := range badges {
				fmt.Fprintln(a.stdout, b.String())
			}
			return nil
		},
	}
}

func (a *app) infoCommand() *command {
	return &command{
		name:    "info",
		summary: "Show firmware versions and the loaded system",
		flags:   func() *pflag.FlagSet { return a.flagSet("info") },
		run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			return a.withClient(func(c *host.Client, b usbfs.Badge, _ *config.Config) error {
				jedec, err := c.JEDECID(a.ctx)
				if err != nil {
					return err
				}
				uid, err := c.UniqueID(a.ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "device\t%s\n", b.String())
				fmt.Fprintf(tw, "jedec\t%08x\n", jedec)
				fmt.Fprintf(tw, "unique id\t%016x\n", uid)
				for _, kind := range []protocol.VersionType{
					protocol.VersionSerialNumber,
					protocol.VersionSemVer,
					protocol.VersionMatrix,
					protocol.VersionWeb,
				} {
					v, err := c.Version(a.ctx, kind)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%v\t%s\n", kind, v)
				}

				// A badge without a roster rejects roster reads.
				name, err := c.SystemName(a.ctx)
				switch {
				case errors.Is(err, pkg.ErrStall):
					fmt.Fprintf(tw, "system\t(none)\n")
				case err != nil:
					return err
				default:
					count, err := c.MemberCount(a.ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "system\t%s (%d members)\n", name, count)
				}
				return tw.Flush()
			})
		},
	}
}

func (a *app) membersCommand() *command {
	return &command{
		name:    "members",
		summary: "List the members of the loaded system",
		flags:   func() *pflag.FlagSet { return a.flagSet("members") },
		run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			return a.withClient(func(c *host.Client, _ usbfs.Badge, _ *config.Config) error {
				sys, err := c.System(a.ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, sys.Name())
				tw := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
				for i, m := range sys.Members() {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", i, m.Name, m.Pronouns)
				}
				return tw.Flush()
			})
		},
	}
}

func (a *app) stateCommand() *command {
	return &command{
		name:    "state",
		summary: "Show the current menu",
		flags:   func() *pflag.FlagSet { return a.flagSet("state") },
		run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			return a.withClient(func(c *host.Client, _ usbfs.Badge, _ *config.Config) error {
				m, err := c.State(a.ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "menu %v, cursor %d of %d, mode %v\n",
					m.Menu, m.Members.Cursor.Index, m.Members.Len, m.Members.Cursor.Mode)
				return nil
			})
		},
	}
}

var buttonNames = map[string]protocol.Button{
	"a":    protocol.ButtonA,
	"b":    protocol.ButtonB,
	"c":    protocol.ButtonC,
	"d":    protocol.ButtonD,
	"up":   protocol.ButtonUp,
	"down": protocol.ButtonDown,
	"user": protocol.ButtonUser,
}

func (a *app) pressCommand() *command {
	return &command{
		name:    "press",
		summary: "Press buttons in order",
		usage:   "<a|b|c|d|up|down|user>... [flags]",
		flags:   func() *pflag.FlagSet { return a.flagSet("press") },
		run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("press needs at least one button: %w", pkg.ErrInvalidParameter)
			}
			buttons := make([]protocol.Button, len(args))
			for i, arg := range args {
				b, ok := buttonNames[strings.ToLower(arg)]
				if !ok {
					return fmt.Errorf("button %q: %w", arg, pkg.ErrInvalidParameter)
				}
				buttons[i] = b
			}
			return a.withClient(func(c *host.Client, _ usbfs.Badge, _ *config.Config) error {
				for _, b := range buttons {
					if err := c.PressButton(a.ctx, b); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (a *app) drawCommand() *command {
	return &command{
		name:    "draw",
		summary: "Repaint the panel if the menu changed",
		flags:   func() *pflag.FlagSet { return a.flagSet("draw") },
		run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			return a.withClient(func(c *host.Client, _ usbfs.Badge, _ *config.Config) error {
				return c.UpdateDisplay(a.ctx)
			})
		},
	}
}

func parseBootSel(s string) (protocol.BootSel, error) {
	for b := protocol.BootApplication; b <= protocol.BootPicoBoot; b++ {
		if strings.EqualFold(s, b.String()) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("boot target %q: %w", s, pkg.ErrInvalidParameter)
}

func (a *app) rebootCommand() *command {
	return &command{
		name:    "reboot",
		summary: "Reboot into the application or a bootloader",
		usage:   "[application|bootloader|mass-storage|picoboot] [flags]",
		flags:   func() *pflag.FlagSet { return a.flagSet("reboot") },
		run: func(args []string) error {
			target := protocol.BootApplication
			switch len(args) {
			case 0:
			case 1:
				var err error
				if target, err = parseBootSel(args[0]); err != nil {
					return err
				}
			default:
				return noArgs(args[1:])
			}
			return a.withClient(func(c *host.Client, _ usbfs.Badge, _ *config.Config) error {
				return c.Reboot(a.ctx, target)
			})
		},
	}
}

func (a *app) uploadCommand() *command {
	var keep bool
	return &command{
		name:    "upload",
		summary: "Replace the badge's roster",
		usage:   "<roster.yaml|file.sybd|blob.bin> [flags]",
		flags: func() *pflag.FlagSet {
			fs := a.flagSet("upload")
			fs.BoolVar(&keep, "no-erase", false, "skip the region erase (the region must already be blank)")
			return fs
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("upload needs one roster file: %w", pkg.ErrInvalidParameter)
			}
			return a.withClient(func(c *host.Client, _ usbfs.Badge, cfg *config.Config) error {
				sys, err := rosterfile.Load(args[0], cfg)
				if err != nil {
					return fmt.Errorf("load roster %s: %w", args[0], err)
				}
				blob, err := sys.ToBytes(cfg.Flash.Base)
				if err != nil {
					return err
				}
				if err := c.UploadSystem(a.ctx, blob, !keep); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "uploaded %s (%d members, %d bytes)\n", sys.Name(), sys.MemberCount(), len(blob))
				return nil
			})
		},
	}
}

func (a *app) downloadCommand() *command {
	return &command{
		name:    "download",
		summary: "Save the badge's roster as .bin, .sybd or .uf2",
		usage:   "<output> [flags]",
		flags:   func() *pflag.FlagSet { return a.flagSet("download") },
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("download needs one output file: %w", pkg.ErrInvalidParameter)
			}
			return a.withClient(func(c *host.Client, _ usbfs.Badge, cfg *config.Config) error {
				sys, err := c.System(a.ctx)
				if err != nil {
					return err
				}
				return rosterfile.Export(args[0], sys, cfg)
			})
		},
	}
}
