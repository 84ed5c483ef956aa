// Package config loads the simulator configuration.
//
// Configuration comes from a single YAML file named by the --config flag or
// the SYSBADGE_CONFIG environment variable. Every field has a default, so a
// missing path yields [Default] and a partial file only overrides the fields
// it names.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/sysbadge/badge"
	"github.com/ardnew/sysbadge/device"
	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/flash"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/roster"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "SYSBADGE_CONFIG"

// maxRegion is the largest roster region a 16-bit chunk offset can address.
const maxRegion = 1 << 16

// Config is the simulator configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Display DisplayConfig `yaml:"display"`
	Flash   FlashConfig   `yaml:"flash"`
	Badge   BadgeConfig   `yaml:"badge"`
	USB     USBConfig     `yaml:"usb"`
	Roster  RosterConfig  `yaml:"roster"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is a slog level name: debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// File receives log output. The terminal belongs to the UI.
	File string `yaml:"file"`
}

// DisplayConfig sets the simulated panel size in pixels.
type DisplayConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// FlashConfig describes the roster region and the part holding it.
type FlashConfig struct {
	// Base is the XIP address the roster is linked at.
	Base       uint32 `yaml:"base"`
	Size       uint32 `yaml:"size"`
	SectorSize uint32 `yaml:"sector_size"`
	PageSize   uint32 `yaml:"page_size"`
	JEDECID    uint32 `yaml:"jedec_id"`
}

// BadgeConfig configures the menu loop and the version strings.
type BadgeConfig struct {
	Debounce time.Duration `yaml:"debounce"`

	// Serial overrides the serial derived from the flash unique id.
	Serial string `yaml:"serial"`

	// Sort orders members of rosters loaded from YAML.
	Sort   string `yaml:"sort"`
	Matrix string `yaml:"matrix"`
	Web    string `yaml:"web"`
}

// USBConfig configures enumeration and the vendor interface.
type USBConfig struct {
	Manufacturer    string        `yaml:"manufacturer"`
	Product         string        `yaml:"product"`
	Interface       uint8         `yaml:"interface"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
}

// RosterConfig names the roster loaded at boot.
type RosterConfig struct {
	Path string `yaml:"path"`

	// Normalize cleans up member names imported from other tools.
	Normalize bool `yaml:"normalize"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "sysbadge-sim.log",
		},
		Display: DisplayConfig{
			Width:  display.DefaultWidth,
			Height: display.DefaultHeight,
		},
		Flash: FlashConfig{
			Base:       0x10100000,
			Size:       flash.DefaultGeometry.Size,
			SectorSize: flash.DefaultGeometry.SectorSize,
			PageSize:   flash.DefaultGeometry.PageSize,
			JEDECID:    flash.DefaultJEDECID,
		},
		Badge: BadgeConfig{
			Debounce: badge.DefaultDebounce,
			Sort:     roster.SortCaseSensitive.String(),
		},
		USB: USBConfig{
			Manufacturer:    "sysbadge",
			Product:         "sysbadge e-paper badge",
			CallbackTimeout: device.DefaultCallbackTimeout,
		},
	}
}

// Load reads the file named by SYSBADGE_CONFIG, or returns the defaults when
// it is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q: %w", c.Log.Level, err))
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format %q: %w", c.Log.Format, err))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display %dx%d has no area: %w",
			c.Display.Width, c.Display.Height, pkg.ErrInvalidParameter))
	}

	f := c.Flash
	switch {
	case !powerOfTwo(f.SectorSize):
		errs = append(errs, fmt.Errorf("flash.sector_size %d is not a power of two: %w", f.SectorSize, pkg.ErrInvalidParameter))
	case !powerOfTwo(f.PageSize) || f.PageSize > f.SectorSize:
		errs = append(errs, fmt.Errorf("flash.page_size %d does not divide the sector: %w", f.PageSize, pkg.ErrInvalidParameter))
	case f.Size == 0 || f.Size > maxRegion:
		errs = append(errs, fmt.Errorf("flash.size %#x does not fit a 16-bit offset: %w", f.Size, pkg.ErrInvalidParameter))
	case f.Size%f.SectorSize != 0:
		errs = append(errs, fmt.Errorf("flash.size %#x is not whole sectors: %w", f.Size, pkg.ErrFlashAlignment))
	}
	if f.Base%4 != 0 {
		errs = append(errs, fmt.Errorf("flash.base %#x: %w", f.Base, pkg.ErrFlashAlignment))
	}

	if _, err := roster.ParseSortPolicy(c.Badge.Sort); err != nil {
		errs = append(errs, fmt.Errorf("badge.sort: %w", err))
	}
	if c.Badge.Debounce < 0 {
		errs = append(errs, fmt.Errorf("badge.debounce %v: %w", c.Badge.Debounce, pkg.ErrInvalidParameter))
	}
	if c.USB.CallbackTimeout <= 0 {
		errs = append(errs, fmt.Errorf("usb.callback_timeout %v: %w", c.USB.CallbackTimeout, pkg.ErrInvalidParameter))
	}

	return errors.Join(errs...)
}

// LogLevel returns the configured level. Call after Validate.
func (c *Config) LogLevel() slog.Level {
	level, _ := pkg.ParseLogLevel(c.Log.Level)
	return level
}

// LogFormat returns the configured format. Call after Validate.
func (c *Config) LogFormat() pkg.LogFormat {
	format, _ := pkg.ParseLogFormat(c.Log.Format)
	return format
}

// SortPolicy returns the configured member order. Call after Validate.
func (c *Config) SortPolicy() roster.SortPolicy {
	p, _ := roster.ParseSortPolicy(c.Badge.Sort)
	return p
}

// Geometry returns the simulated flash geometry covering the roster region.
func (c *Config) Geometry() flash.Geometry {
	return flash.Geometry{Size: c.Flash.Size, SectorSize: c.Flash.SectorSize, PageSize: c.Flash.PageSize}
}

// Region returns the roster region. The simulated part holds only the region,
// so it starts at flash offset 0.
func (c *Config) Region() flash.Region {
	return flash.Region{Base: c.Flash.Base, Offset: 0, Size: c.Flash.Size}
}

func powerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}
