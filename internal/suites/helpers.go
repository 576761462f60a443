package suites

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"nascert/internal/harness"
)

// scratchDir creates a uniquely named working directory on the mount
// so concurrent runs against the same export never collide.
func scratchDir(env harness.Env) (string, error) {
	dir := filepath.Join(env.MountPoint, "nascert-"+uuid.NewString()[:8])
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	return dir, nil
}

// fillPattern produces deterministic content of the given size so a
// read-back comparison catches corruption, not just truncation.
func fillPattern(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte('a' + (i % 23))
	}
	return buf
}

// writeAndVerify writes content to path, closes it, reopens it, and
// compares what comes back.
func writeAndVerify(path string, content []byte) error {
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading back %s: %w", path, err)
	}
	if !bytes.Equal(got, content) {
		return fmt.Errorf("read-back mismatch on %s: wrote %d bytes, got %d", path, len(content), len(got))
	}
	return nil
}

// expectedDenial reports whether err is the access error a correctly
// enforcing server returns when a client without write access tries to
// modify data.
func expectedDenial(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EROFS || errno == syscall.EACCES || errno == syscall.EPERM
	}
	return false
}
