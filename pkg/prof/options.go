package prof

// Options names the files a profiling session writes. Empty paths are skipped.
type Options struct {
	CPU   string // CPU samples, recorded for the whole session
	Heap  string // heap snapshot, written on stop
	Block bool   // record blocking events, useful for lock contention on the badge state
}
