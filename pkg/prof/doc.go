// Package prof captures pprof profiles of a simulator session.
//
// Capture is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/sysbadge-sim
//
// Without the tag [Start] returns a no-op stop function, so callers keep
// their profiling flags without paying for them.
//
//	stop, err := prof.Start(prof.Options{CPU: "cpu.prof", Heap: "heap.prof"})
//	if err != nil {
//	    return err
//	}
//	defer stop()
package prof
