//go:build !debug

package pkg

// Assert logs msg when cond is false. Built with -tags debug it panics instead.
func Assert(cond bool, msg string, args ...any) {
	if !cond {
		LogError(ComponentBadge, "invariant violated: "+msg, args...)
	}
}

// Debug reports whether the binary was built with the debug tag.
const Debug = false
