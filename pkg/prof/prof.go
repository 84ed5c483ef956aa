//go:build profile

package prof

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Enabled reports whether profile capture is compiled in.
const Enabled = true

// ErrActive indicates a profiling session is already running.
var ErrActive = errors.New("profiling session already active")

var (
	mutex  sync.Mutex
	active bool
)

// Start begins a profiling session. The returned function stops CPU sampling
// and writes the heap and block snapshots.
func Start(opts Options) (func() error, error) {
	mutex.Lock()
	defer mutex.Unlock()

	if active {
		return nil, ErrActive
	}

	var cpu *os.File
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		cpu = f
	}
	if opts.Block {
		runtime.SetBlockProfileRate(1)
	}
	active = true

	stop := func() error {
		mutex.Lock()
		defer mutex.Unlock()
		if !active {
			return nil
		}
		active = false

		var errs []error
		if cpu != nil {
			pprof.StopCPUProfile()
			errs = append(errs, cpu.Close())
		}
		if opts.Heap != "" {
			errs = append(errs, snapshot("heap", opts.Heap))
		}
		if opts.Block {
			runtime.SetBlockProfileRate(0)
		}
		return errors.Join(errs...)
	}
	return stop, nil
}

func snapshot(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.Lookup(name).WriteTo(f, 0)
}
