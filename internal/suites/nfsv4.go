package suites

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"nascert/internal/harness"
)

// nfsv4Cases exercise behavior NFSv4 adds over v3: stateful opens,
// delegations, mode attributes over the integrated attribute model,
// and the negotiated minor version.
var nfsv4Cases = []harness.Case{
	{
		Name:        "nfsv4-minor-version",
		Description: "The kernel negotiated the requested NFSv4 minor version",
		Scope:       harness.ScopeNFSv4,
		Run:         runMinorVersionCheck,
	},
	{
		Name:        "nfsv4-stateful-open",
		Description: "Two open descriptors on one file share state correctly",
		Scope:       harness.ScopeNFSv4,
		Access:      harness.AccessWrite,
		Run:         runStatefulOpen,
	},
	{
		Name:        "nfsv4-read-delegation-smoke",
		Description: "Concurrent read-only opens of one file return identical data",
		Scope:       harness.ScopeNFSv4,
		Access:      harness.AccessWrite,
		Run:         runReadDelegationSmoke,
	},
	{
		Name:        "nfsv4-mode-attributes",
		Description: "Mode changes round-trip through the v4 attribute model",
		Scope:       harness.ScopeNFSv4,
		Access:      harness.AccessWrite,
		Run:         runModeAttributes,
	},
	{
		Name:        "nfsv4-parallel-io",
		Description: "Parallel large writes complete without interference",
		Scope:       harness.ScopeNFSv4,
		Access:      harness.AccessWrite,
		Run:         runParallelIO,
	},
}

func runMinorVersionCheck(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	entry, err := findMountEntry(env)
	if err != nil {
		return "", err
	}
	want := fmt.Sprintf("vers=4.%d", env.Target.NFS.MinorVersion)
	if !entry.HasOption(want) {
		return "", fmt.Errorf("mount table options %q do not include %s", entry.Options, want)
	}
	return fmt.Sprintf("negotiated %s", want), nil
}

func runStatefulOpen(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "stateful")
	content := fillPattern(16 * 1024)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	writer, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("opening writer descriptor: %w", err)
	}
	defer writer.Close()

	reader, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening reader descriptor: %w", err)
	}
	defer reader.Close()
	steps.Step("two descriptors open on one file")

	update := []byte("UPDATED-REGION")
	if _, err := writer.WriteAt(update, 0); err != nil {
		return "", fmt.Errorf("writing through first descriptor: %w", err)
	}

	got := make([]byte, len(update))
	if _, err := reader.ReadAt(got, 0); err != nil {
		return "", fmt.Errorf("reading through second descriptor: %w", err)
	}
	if !bytes.Equal(got, update) {
		return "", fmt.Errorf("second descriptor read %q, want %q", got, update)
	}
	return "write through one open visible to the other", nil
}

func runReadDelegationSmoke(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "delegated")
	content := fillPattern(32 * 1024)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	first, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("first read: %w", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("second read: %w", err)
	}
	if !bytes.Equal(first, second) || !bytes.Equal(first, content) {
		return "", fmt.Errorf("repeated reads disagree with written content")
	}
	return "repeated read-only opens consistent", nil
}

func runModeAttributes(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "modes")
	if err := os.WriteFile(path, []byte("attr"), 0644); err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	for _, mode := range []os.FileMode{0600, 0640, 0755} {
		if err := os.Chmod(path, mode); err != nil {
			return "", fmt.Errorf("chmod %o: %w", mode, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat after chmod %o: %w", mode, err)
		}
		if info.Mode().Perm() != mode {
			return "", fmt.Errorf("mode after chmod is %o, want %o", info.Mode().Perm(), mode)
		}
		steps.Step("mode %o round-tripped", mode)
	}
	return "mode attribute changes round-trip", nil
}

func runParallelIO(ctx context.Context, env harness.Env, steps harness.StepRecorder) (string, error) {
	dir, err := scratchDir(env)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	const workers = 4
	const size = 2 << 20

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, fmt.Sprintf("parallel-%d", worker))
			return writeAndVerify(path, fillPattern(size))
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d parallel writers verified %d MiB each", workers, size>>20), nil
}
