// Package pkg provides shared utilities for the sysbadge firmware core.
//
// This package contains common functionality used by the roster, menu, flash
// and USB packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for roster, flash and protocol failures
//   - Debug-only invariant assertions
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentFlash, "erase done", "sectors", 16)
//
// # Errors
//
// Roster format errors all match [ErrFormat]:
//
//	if errors.Is(err, pkg.ErrFormat) {
//	    // show the invalid system screen
//	}
//
// # Assertions
//
// [Assert] guards internal invariants. It panics only when built with
// -tags debug and logs otherwise, so untrusted input never reaches it.
package pkg
