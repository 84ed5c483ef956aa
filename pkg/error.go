package pkg

import (
	"errors"
	"fmt"
)

// ErrFormat is matched by every roster format error.
var ErrFormat = errors.New("invalid roster format")

// formatError is a roster format error that also matches [ErrFormat].
type formatError struct{ msg string }

func (e *formatError) Error() string        { return e.msg }
func (e *formatError) Is(target error) bool { return target == ErrFormat }

// Roster format errors. Each satisfies errors.Is(err, ErrFormat).
var (
	// ErrBadMagic indicates the header magic does not match.
	ErrBadMagic error = &formatError{"bad roster magic"}

	// ErrBadVersion indicates an unrecognized format version.
	ErrBadVersion error = &formatError{"unsupported roster version"}

	// ErrChecksum indicates the header checksum does not match.
	ErrChecksum error = &formatError{"roster header checksum mismatch"}

	// ErrTruncated indicates the region is shorter than the header.
	ErrTruncated error = &formatError{"roster region truncated"}

	// ErrBadPointer indicates a pointer escapes the mapped region.
	ErrBadPointer error = &formatError{"roster pointer out of region"}

	// ErrMisaligned indicates a pointer is not aligned for its element type.
	ErrMisaligned error = &formatError{"roster pointer misaligned"}
)

// Builder errors.
var (
	// ErrInvalidUTF8 indicates a name or pronoun string is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("string is not valid UTF-8")

	// ErrTooLarge indicates an encoded roster would overflow its address space.
	ErrTooLarge = errors.New("roster too large")
)

// Runtime errors.
var (
	// ErrIndexOutOfRange indicates a member index beyond the member count.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrBackpressure indicates a bounded queue is full. The caller may retry.
	ErrBackpressure = errors.New("queue full")

	// ErrBusy indicates the resource is locked by another task.
	ErrBusy = errors.New("resource busy")

	// ErrProtocolMismatch indicates a payload of the wrong size or shape.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidState indicates the operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrStall indicates the device stalled a control request.
	ErrStall = errors.New("endpoint stalled")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")
)

// Flash errors.
var (
	// ErrFlash indicates an erase or program operation failed.
	ErrFlash = errors.New("flash operation failed")

	// ErrFlashBounds indicates an access outside the flash region.
	ErrFlashBounds = errors.New("flash access out of bounds")

	// ErrFlashAlignment indicates an offset or length violates flash alignment.
	ErrFlashAlignment = errors.New("flash access misaligned")
)

// File wrapper errors.
var (
	// ErrFileMagic indicates the data does not start with the file magic.
	ErrFileMagic = errors.New("not a system file")

	// ErrFileHash indicates the trailing hash does not match the contents.
	ErrFileHash = errors.New("system file hash mismatch")
)

// UpdateError reports the terminal status of a failed roster update.
type UpdateError struct {
	Status string
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("roster update failed: %s", e.Status)
}

// Unwrap lets errors.Is match [ErrFlash].
func (e *UpdateError) Unwrap() error { return ErrFlash }
