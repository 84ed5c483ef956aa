//go:build debug

package pkg

import "fmt"

// Assert panics when cond is false.
func Assert(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprint(append([]any{"invariant violated: " + msg + " "}, args...)...))
	}
}

// Debug reports whether the binary was built with the debug tag.
const Debug = true
