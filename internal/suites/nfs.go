package suites

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nascert/internal/harness"
	"nascert/internal/mount"
)

// nfsSharedCases run against every NFS mount regardless of version.
var nfsSharedCases = []harness.Case{
	{
		Name:        "mount-options-verification",
		Description: "The kernel mount table reflects the requested version, mode, and options",
		Scope:       harness.ScopeAllNFS,
		Run:         runMountOptionsVerification,
	},
	{
		Name:        "transport-protocol",
		Description: "The mount negotiated the requested transport protocol",
		Scope:       harness.ScopeAllNFS,
		Run:         runTransportProtocol,
	},
	{
		Name:        "read-write-enforcement",
		Description: "A read-write mount with write access accepts writes and returns them intact",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runReadWriteEnforcement,
	},
	{
		Name:        "basic-file-operations",
		Description: "Create, stat, rename, and remove files and directories",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runBasicFileOperations,
	},
	{
		Name:        "idempotent-operations",
		Description: "Repeated creates and removes behave consistently over the wire",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runIdempotentOperations,
	},
	{
		Name:        "close-to-open-consistency",
		Description: "Data written before close is visible to a subsequent open",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runCloseToOpenConsistency,
	},
	{
		Name:        "nlm-flock-locking",
		Description: "Advisory whole-file locks are granted exclusively and released cleanly",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runFlockLocking,
	},
	{
		Name:        "small-file-performance",
		Description: "Sustained small-file creation completes within the run",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runSmallFilePerformance,
	},
	{
		Name:        "concurrent-writers",
		Description: "Parallel writers produce the full expected file set without interference",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runConcurrentWriters,
	},
	{
		Name:        "large-sequential-io",
		Description: "A large sequential write survives a checksum round trip",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessWrite,
		Run:         runLargeSequentialIO,
	},
	{
		Name:        "read-only-write-denial",
		Description: "A share without write access rejects modification attempts",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessReadOnly,
		Run:         runReadOnlyWriteDenial,
	},
	{
		Name:        "read-only-read-operations",
		Description: "A share without write access still serves reads",
		Scope:       harness.ScopeAllNFS,
		Access:      harness.AccessReadOnly,
		Run:         runReadOnlyReadOperations,
	},
}

func findMountEntry(env harness.Env) (mount.Entry, error) {
	entry, ok, err := mount.FindEntry(mountTable, env.MountPoint)
	if err != nil {
		return mount.Entry{}, err
	}
	if !ok {
		return mount.Entry{}, fmt.Errorf("%s is not present in %s", env.MountPoint, mountTable)
	}
	return entry, nil
}

// nfsVersionOption is the vers= option the kernel reports for the
// target's negotiated version.
func nfsVersionOption(opts *mount.NFSOptions) string {
	if opts.MajorVersion == 3 {
		return "vers=3"
	}
	return fmt.Sprintf("vers=4.%d", opts.MinorVersion)
}

func runMountOptionsVerification(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	entry, err := findMountEntry(env)
	if err != nil {
		return "", err
	}
	steps.Step("found mount table entry: %s %s (%s)", entry.Device, entry.Path, entry.Type)

	if entry.Type != "nfs" && entry.Type != "nfs4" {
		return "", fmt.Errorf("mount table reports filesystem type %q, want nfs or nfs4", entry.Type)
	}

	versOpt := nfsVersionOption(env.Target.NFS)
	if !entry.HasOption(versOpt) {
		return "", fmt.Errorf("mount table options %q do not include %s", entry.Options, versOpt)
	}
	steps.Step("negotiated version matches: %s", versOpt)

	modeOpt := string(env.Target.MountType)
	if !entry.HasOption(modeOpt) {
		return "", fmt.Errorf("mount table options %q do not include mode %s", entry.Options, modeOpt)
	}
	steps.Step("mount mode matches: %s", modeOpt)

	return fmt.Sprintf("mounted with options %s", entry.Options), nil
}

func runTransportProtocol(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	entry, err := findMountEntry(env)
	if err != nil {
		return "", err
	}
	protoOpt := "proto=" + env.Target.NFS.Transport
	if !entry.HasOption(protoOpt) {
		return "", fmt.Errorf("mount table options %q do not include %s", entry.Options, protoOpt)
	}
	return fmt.Sprintf("transport negotiated as %s", env.Target.NFS.Transport), nil
}

func runReadWriteEnforcement(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "write-probe")
	if err := writeAndVerify(path, fillPattern(4096)); err != nil {
		return "", err
	}
	return "write and read-back succeeded", nil
}

func runBasicFileOperations(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)
	steps.Step("created scratch directory %s", filepath.Base(dir))

	const count = 10
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("file-%02d", i))
		if err := os.WriteFile(path, fillPattern(512), 0644); err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
	}
	steps.Step("created %d files", count)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing scratch directory: %w", err)
	}
	if len(entries) != count {
		return "", fmt.Errorf("directory lists %d entries, want %d", len(entries), count)
	}

	old := filepath.Join(dir, "file-00")
	renamed := filepath.Join(dir, "file-00-renamed")
	if err := os.Rename(old, renamed); err != nil {
		return "", fmt.Errorf("renaming: %w", err)
	}
	if _, err := os.Stat(renamed); err != nil {
		return "", fmt.Errorf("stat after rename: %w", err)
	}
	if _, err := os.Stat(old); !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("old name still visible after rename: %v", err)
	}
	steps.Step("rename verified")

	sub := filepath.Join(dir, "subdir")
	if err := os.Mkdir(sub, 0755); err != nil {
		return "", fmt.Errorf("creating subdirectory: %w", err)
	}
	if err := os.Remove(sub); err != nil {
		return "", fmt.Errorf("removing subdirectory: %w", err)
	}

	if err := os.Remove(renamed); err != nil {
		return "", fmt.Errorf("removing file: %w", err)
	}
	return "create, list, rename, and remove all succeeded", nil
}

func runIdempotentOperations(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	sub := filepath.Join(dir, "repeat")
	if err := os.MkdirAll(sub, 0755); err != nil {
		return "", fmt.Errorf("first MkdirAll: %w", err)
	}
	if err := os.MkdirAll(sub, 0755); err != nil {
		return "", fmt.Errorf("repeated MkdirAll: %w", err)
	}
	steps.Step("repeated directory creation is clean")

	path := filepath.Join(sub, "victim")
	if err := os.WriteFile(path, []byte("once"), 0644); err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if err := os.WriteFile(path, []byte("twice"), 0644); err != nil {
		return "", fmt.Errorf("recreating existing file: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("first remove: %w", err)
	}
	if err := os.Remove(path); !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("second remove returned %v, want not-exist", err)
	}
	steps.Step("repeated remove reports not-exist, not a protocol error")

	return "repeated operations behave consistently", nil
}

func runCloseToOpenConsistency(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "cto")
	content := fillPattern(64 * 1024)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", fmt.Errorf("writing: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing writer: %w", err)
	}
	steps.Step("wrote and closed %d bytes", len(content))

	got, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reopening for read: %w", err)
	}
	if len(got) != len(content) {
		return "", fmt.Errorf("reopen returned %d bytes, want %d", len(got), len(content))
	}
	for i := range got {
		if got[i] != content[i] {
			return "", fmt.Errorf("reopen returned stale data at offset %d", i)
		}
	}
	return "data written before close visible after reopen", nil
}

func runFlockLocking(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "lockfile")
	first, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating lock file: %w", err)
	}
	defer first.Close()

	second, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("opening second descriptor: %w", err)
	}
	defer second.Close()

	if err := syscall.Flock(int(first.Fd()), syscall.LOCK_EX); err != nil {
		return "", fmt.Errorf("acquiring exclusive lock: %w", err)
	}
	steps.Step("exclusive lock acquired on first descriptor")

	err = syscall.Flock(int(second.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
		syscall.Flock(int(first.Fd()), syscall.LOCK_UN)
		return "", fmt.Errorf("contending lock returned %v, want EWOULDBLOCK", err)
	}
	steps.Step("contending nonblocking lock correctly denied")

	if err := syscall.Flock(int(first.Fd()), syscall.LOCK_UN); err != nil {
		return "", fmt.Errorf("releasing lock: %w", err)
	}
	if err := syscall.Flock(int(second.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return "", fmt.Errorf("lock after release returned %v, want success", err)
	}
	syscall.Flock(int(second.Fd()), syscall.LOCK_UN)

	return "exclusive locking granted, contended, and released as expected", nil
}

func runSmallFilePerformance(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	const count = 100
	content := fillPattern(1024)
	start := time.Now()
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path := filepath.Join(dir, fmt.Sprintf("small-%03d", i))
		if err := os.WriteFile(path, content, 0644); err != nil {
			return "", fmt.Errorf("writing file %d: %w", i, err)
		}
	}
	elapsed := time.Since(start)
	steps.Step("wrote %d files of %d bytes in %s", count, len(content), elapsed.Round(time.Millisecond))

	return fmt.Sprintf("%d small files in %s (%.1f files/sec)",
		count, elapsed.Round(time.Millisecond), float64(count)/elapsed.Seconds()), nil
}

func runConcurrentWriters(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	const workers = 4
	const filesPerWorker = 25

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			content := fillPattern(2048)
			for i := 0; i < filesPerWorker; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				path := filepath.Join(dir, fmt.Sprintf("w%d-f%02d", worker, i))
				if err := os.WriteFile(path, content, 0644); err != nil {
					return fmt.Errorf("worker %d writing file %d: %w", worker, i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	steps.Step("%d workers wrote %d files each", workers, filesPerWorker)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing after concurrent writes: %w", err)
	}
	want := workers * filesPerWorker
	if len(entries) != want {
		return "", fmt.Errorf("directory lists %d files, want %d", len(entries), want)
	}
	return fmt.Sprintf("%d files from %d concurrent writers all present", want, workers), nil
}

func runLargeSequentialIO(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	const chunkSize = 1 << 20
	const chunks = 8
	path := filepath.Join(dir, "large")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating large file: %w", err)
	}
	chunk := fillPattern(chunkSize)
	writeSum := sha256.New()
	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			f.Close()
			return "", err
		}
		if _, err := f.Write(chunk); err != nil {
			f.Close()
			return "", fmt.Errorf("writing chunk %d: %w", i, err)
		}
		writeSum.Write(chunk)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("syncing: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing: %w", err)
	}
	steps.Step("wrote %d MiB sequentially", chunks)

	got, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading back: %w", err)
	}
	readSum := sha256.Sum256(got)
	if hex.EncodeToString(writeSum.Sum(nil)) != hex.EncodeToString(readSum[:]) {
		return "", fmt.Errorf("checksum mismatch after %d MiB round trip", chunks)
	}
	return fmt.Sprintf("%d MiB written and verified by checksum", chunks), nil
}

func runReadOnlyWriteDenial(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	path := filepath.Join(env.MountPoint, "nascert-denial-probe")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("create on a read-only share unexpectedly succeeded")
	}
	if !expectedDenial(err) {
		return "", fmt.Errorf("create returned %v, want a permission or read-only error", err)
	}
	steps.Step("create denied with %v", err)

	if err := os.Mkdir(filepath.Join(env.MountPoint, "nascert-denial-dir"), 0755); err == nil {
		os.Remove(filepath.Join(env.MountPoint, "nascert-denial-dir"))
		return "", fmt.Errorf("mkdir on a read-only share unexpectedly succeeded")
	} else if !expectedDenial(err) {
		return "", fmt.Errorf("mkdir returned %v, want a permission or read-only error", err)
	}
	steps.Step("mkdir denied as well")

	return "modification attempts correctly denied", nil
}

func runReadOnlyReadOperations(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	entries, err := os.ReadDir(env.MountPoint)
	if err != nil {
		return "", fmt.Errorf("listing mount root: %w", err)
	}
	steps.Step("mount root lists %d entries", len(entries))

	statted := 0
	for _, entry := range entries {
		if statted == 5 {
			break
		}
		if _, err := os.Stat(filepath.Join(env.MountPoint, entry.Name())); err != nil {
			return "", fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		statted++
	}
	return fmt.Sprintf("listed %d entries, statted %d", len(entries), statted), nil
}
