//go:build !profile

package prof

// Enabled reports whether profile capture is compiled in.
const Enabled = false

// Start is a no-op when built without the "profile" tag.
func Start(Options) (func() error, error) {
	return func() error { return nil }, nil
}
