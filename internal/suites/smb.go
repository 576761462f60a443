package suites

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"nascert/internal/harness"
)

// smbCases run against cifs mounts. They cover the operations the
// kernel client exposes through the regular file API plus a byte-range
// lock probe.
var smbCases = []harness.Case{
	{
		Name:        "smb-list-directory",
		Description: "The share root can be listed",
		Scope:       harness.ScopeSMB,
		Run:         runSMBListDirectory,
	},
	{
		Name:        "smb-file-roundtrip",
		Description: "Write, read, rename, and delete a file on the share",
		Scope:       harness.ScopeSMB,
		Access:      harness.AccessWrite,
		Run:         runSMBFileRoundtrip,
	},
	{
		Name:        "smb-file-move",
		Description: "A file can be moved into a subdirectory of the share",
		Scope:       harness.ScopeSMB,
		Access:      harness.AccessWrite,
		Run:         runSMBFileMove,
	},
	{
		Name:        "smb-concurrent-access",
		Description: "Parallel readers and writers on the share do not disturb each other",
		Scope:       harness.ScopeSMB,
		Access:      harness.AccessWrite,
		Run:         runSMBConcurrentAccess,
	},
	{
		Name:        "smb-exclusive-lock-contention",
		Description: "An exclusive lock held on the share blocks a contending locker",
		Scope:       harness.ScopeSMB,
		Access:      harness.AccessWrite,
		Run:         runSMBExclusiveLockContention,
	},
	{
		Name:        "smb-large-file-checksum",
		Description: "A large write survives a checksum round trip over SMB",
		Scope:       harness.ScopeSMB,
		Access:      harness.AccessWrite,
		Run:         runSMBLargeFileChecksum,
	},
	{
		Name:        "smb-many-small-files",
		Description: "A burst of small file creations all land on the share",
		Scope:       harness.ScopeSMB,
		Access:      harness.AccessWrite,
		Run:         runSMBManySmallFiles,
	},
	{
		Name:        "smb-byte-range-lock",
		Description: "A byte-range lock can be taken and released on the share",
		Scope:       harness.ScopeSMB,
		Access:      harness.AccessWrite,
		Run:         runSMBByteRangeLock,
	},
}

func runSMBListDirectory(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	entries, err := os.ReadDir(env.MountPoint)
	if err != nil {
		return "", fmt.Errorf("listing share root: %w", err)
	}
	return fmt.Sprintf("share root lists %d entries", len(entries)), nil
}

func runSMBFileRoundtrip(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "roundtrip")
	if err := writeAndVerify(path, fillPattern(8192)); err != nil {
		return "", err
	}
	steps.Step("write and read-back verified")

	renamed := filepath.Join(dir, "roundtrip-renamed")
	if err := os.Rename(path, renamed); err != nil {
		return "", fmt.Errorf("renaming: %w", err)
	}
	if err := os.Remove(renamed); err != nil {
		return "", fmt.Errorf("removing: %w", err)
	}
	return "write, read, rename, and delete succeeded", nil
}

func runSMBFileMove(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "move-src")
	if err := os.WriteFile(src, fillPattern(1024), 0644); err != nil {
		return "", fmt.Errorf("creating source file: %w", err)
	}

	sub := filepath.Join(dir, "move-dir")
	if err := os.Mkdir(sub, 0755); err != nil {
		return "", fmt.Errorf("creating subdirectory: %w", err)
	}
	dst := filepath.Join(sub, "move-dst")
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("moving into subdirectory: %w", err)
	}
	steps.Step("moved file into subdirectory")

	entries, err := os.ReadDir(sub)
	if err != nil {
		return "", fmt.Errorf("listing destination directory: %w", err)
	}
	if len(entries) != 1 || entries[0].Name() != "move-dst" {
		return "", fmt.Errorf("moved file not found in destination directory")
	}
	if _, err := os.Stat(src); !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("source name still visible after move: %v", err)
	}
	return "file moved to subdirectory and visible there", nil
}

func runSMBConcurrentAccess(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	shared := filepath.Join(dir, "shared")
	content := fillPattern(16 * 1024)
	if err := os.WriteFile(shared, content, 0644); err != nil {
		return "", fmt.Errorf("seeding shared file: %w", err)
	}

	const readers = 4
	const writers = 4

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < readers; i++ {
		reader := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			got, err := os.ReadFile(shared)
			if err != nil {
				return fmt.Errorf("reader %d: %w", reader, err)
			}
			if !bytes.Equal(got, content) {
				return fmt.Errorf("reader %d saw %d bytes, want %d", reader, len(got), len(content))
			}
			return nil
		})
	}
	for i := 0; i < writers; i++ {
		writer := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, fmt.Sprintf("writer-%d", writer))
			if err := os.WriteFile(path, fillPattern(4096), 0644); err != nil {
				return fmt.Errorf("writer %d: %w", writer, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	steps.Step("%d readers and %d writers completed", readers, writers)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing after concurrent access: %w", err)
	}
	if len(entries) != writers+1 {
		return "", fmt.Errorf("share lists %d files, want %d", len(entries), writers+1)
	}
	return fmt.Sprintf("%d concurrent readers and %d writers all succeeded", readers, writers), nil
}

func runSMBExclusiveLockContention(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "exclusive")
	first, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating lock file: %w", err)
	}
	defer first.Close()

	second, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("opening contending descriptor: %w", err)
	}
	defer second.Close()

	if err := syscall.Flock(int(first.Fd()), syscall.LOCK_EX); err != nil {
		return "", fmt.Errorf("taking exclusive lock: %w", err)
	}
	steps.Step("exclusive lock held on first descriptor")

	err = syscall.Flock(int(second.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
		syscall.Flock(int(first.Fd()), syscall.LOCK_UN)
		return "", fmt.Errorf("contending lock returned %v, want EWOULDBLOCK", err)
	}
	steps.Step("contending lock correctly blocked")

	if err := syscall.Flock(int(first.Fd()), syscall.LOCK_UN); err != nil {
		return "", fmt.Errorf("releasing exclusive lock: %w", err)
	}
	return "exclusive lock enforced against a contending opener", nil
}

func runSMBLargeFileChecksum(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	content := fillPattern(4 << 20)
	want := sha256.Sum256(content)

	path := filepath.Join(dir, "large")
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing: %w", err)
	}
	steps.Step("wrote %d MiB", len(content)>>20)

	got, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading back: %w", err)
	}
	if sha256.Sum256(got) != want {
		return "", fmt.Errorf("checksum mismatch after %d MiB round trip", len(content)>>20)
	}
	return fmt.Sprintf("%d MiB verified by checksum", len(content)>>20), nil
}

func runSMBManySmallFiles(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	const count = 200
	content := fillPattern(256)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path := filepath.Join(dir, fmt.Sprintf("small-%03d", i))
		if err := os.WriteFile(path, content, 0644); err != nil {
			return "", fmt.Errorf("writing file %d: %w", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing: %w", err)
	}
	if len(entries) != count {
		return "", fmt.Errorf("share lists %d files, want %d", len(entries), count)
	}
	return fmt.Sprintf("%d small files created and listed", count), nil
}

func runSMBByteRangeLock(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "brlock")
	if err := os.WriteFile(path, fillPattern(4096), 0644); err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("opening: %w", err)
	}
	defer f.Close()

	lock := syscall.Flock_t{
		Type:   syscall.F_WRLCK,
		Whence: 0,
		Start:  0,
		Len:    1024,
	}
	if err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, &lock); err != nil {
		return "", fmt.Errorf("taking byte-range write lock: %w", err)
	}
	steps.Step("write lock taken on bytes 0-1023")

	lock.Type = syscall.F_UNLCK
	if err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, &lock); err != nil {
		return "", fmt.Errorf("releasing byte-range lock: %w", err)
	}
	return "byte-range lock taken and released", nil
}
