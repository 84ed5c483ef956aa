// Command sysbadge-sim runs the badge firmware core in a terminal.
//
// The simulated badge has a 1bpp panel, NOR flash holding the roster and a
// vendor USB interface connected in process to a host client. The panel is
// drawn with half-block characters and the keyboard stands in for the
// buttons.
//
// Usage:
//
//	sysbadge-sim [flags]
//
// Examples:
//
//	# Boot with a roster written by hand
//	sysbadge-sim --roster kestrel.yaml
//
//	# Convert a roster for drag-and-drop flashing and exit
//	sysbadge-sim --roster kestrel.yaml --export kestrel.uf2
//
// Logs go to the file named in the configuration, never to the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/ardnew/sysbadge/display"
	"github.com/ardnew/sysbadge/internal/config"
	"github.com/ardnew/sysbadge/internal/rosterfile"
	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/pkg/prof"
	"github.com/ardnew/sysbadge/roster"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		rosterPath string
		exportPath string
		logLevel   string
		cpuProfile string
		memProfile string
	)

	flagSet := pflag.NewFlagSet("sysbadge-sim", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML configuration file (default: $"+config.EnvVar+")")
	flagSet.StringVarP(&rosterPath, "roster", "r", "", "roster to boot with: .yaml, .sybd or a bare blob")
	flagSet.StringVarP(&exportPath, "export", "e", "", "write the roster as .bin, .sybd or .uf2 and exit")
	flagSet.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flagSet.StringVar(&cpuProfile, "cpuprofile", "", "write a CPU profile (profile builds only)")
	flagSet.StringVar(&memProfile, "memprofile", "", "write a heap profile on exit (profile builds only)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q: %w", flagSet.Arg(0), pkg.ErrInvalidParameter)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if rosterPath == "" {
		rosterPath = cfg.Roster.Path
	}

	var sys *roster.Owned
	if rosterPath != "" {
		if sys, err = rosterfile.Load(rosterPath, cfg); err != nil {
			return fmt.Errorf("load roster %s: %w", rosterPath, err)
		}
	}
	if exportPath != "" {
		if sys == nil {
			return fmt.Errorf("export needs --roster: %w", pkg.ErrInvalidParameter)
		}
		return rosterfile.Export(exportPath, sys, cfg)
	}

	if (cpuProfile != "" || memProfile != "") && !prof.Enabled {
		fmt.Fprintln(os.Stderr, "warning: built without the profile tag, profiles are not written")
	}
	stop, err := prof.Start(prof.Options{CPU: cpuProfile, Heap: memProfile, Block: cpuProfile != ""})
	if err != nil {
		return err
	}
	defer stop()

	closeLog, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	return simulate(cfg, sys)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func openLog(cfg *config.Config) (func() error, error) {
	pkg.SetLogLevel(cfg.LogLevel())
	if cfg.Log.File == "" {
		pkg.SetLogOutput(io.Discard, cfg.LogFormat())
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	pkg.SetLogOutput(f, cfg.LogFormat())
	return f.Close, nil
}

func simulate(cfg *config.Config, sys *roster.Owned) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var program *tea.Program
	send := func(msg tea.Msg) {
		if program != nil {
			program.Send(msg)
		}
	}

	s, err := boot(ctx, cfg, sys, func(written, total int) {
		send(progressMsg{written, total})
	})
	if err != nil {
		return err
	}
	pkg.LogInfo(component, "badge booted",
		"region", cfg.Region().String(),
		"display", fmt.Sprintf("%dx%d", cfg.Display.Width, cfg.Display.Height),
		"roster", sys != nil)

	program = tea.NewProgram(newModel(ctx, s, sys), tea.WithAltScreen(), tea.WithContext(ctx))
	s.fb.OnFlush(func(f display.Frame) { send(frameMsg(f)) })

	tasks := make(chan error, 1)
	go func() { tasks <- s.run(ctx) }()

	_, err = program.Run()
	cancel()
	if taskErr := <-tasks; taskErr != nil {
		pkg.LogError(component, "badge task failed", "error", taskErr)
		if err == nil {
			err = taskErr
		}
	}
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
