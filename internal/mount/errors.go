package mount

import (
	"errors"
	"fmt"
)

// ErrNotRoot is returned when a mount or unmount is attempted without root
// privilege. It is a precondition failure, not a retryable error.
var ErrNotRoot = errors.New("mount operations require root privilege")

// MountError is a typed failure from the mount or umount command. Err
// distinguishes timeouts (context.DeadlineExceeded) from non-zero exits and
// verification failures; Stderr carries the OS-level error text when the
// command produced any.
type MountError struct {
	Op     string // "mount" or "umount"
	Source string
	Point  string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *MountError) Error() string {
	msg := fmt.Sprintf("%s %s at %s: %v", e.Op, e.Source, e.Point, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *MountError) Unwrap() error {
	return e.Err
}

// ErrNotInMountTable indicates the mount command exited zero but the mount
// point never appeared in the live mount table.
var ErrNotInMountTable = errors.New("mount point not present in mount table")
