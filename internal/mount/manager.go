package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"nascert/pkg/logging"
)

// State tracks where a handle is in its lifecycle.
type State string

const (
	StateUnmounted  State = "unmounted"
	StateMounting   State = "mounting"
	StateMounted    State = "mounted"
	StateUnmounting State = "unmounting"
	StateFailed     State = "failed"
)

// Handle is a live (or formerly live) local attachment of one target. It is
// exclusively owned by the suite runner for the duration of one target's
// test run and must be unmounted before the next target begins.
type Handle struct {
	MountPoint string
	Target     *Target
	State      State
}

// Mounter is the mount lifecycle contract the suite runner depends on.
type Mounter interface {
	Mount(ctx context.Context, target *Target, uid, gid int) (*Handle, error)
	Unmount(ctx context.Context, handle *Handle, force, lazy bool) error
}

// Manager acquires and releases filesystem mounts by shelling out to the OS
// mount facility. Every command runs with a bounded timeout.
type Manager struct {
	// DryRun logs the mount command without executing it. Dry-run mounts
	// return a handle whose mount point was never created.
	DryRun bool

	// Timeout bounds each mount/umount command. Defaults to 30s.
	Timeout time.Duration

	mountTablePath   string
	geteuid          func() int
	runCommand       func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
	mkdirTemp        func() (string, error)
	writeCredentials func(opts *SMBOptions) (string, error)
}

// NewManager returns a Manager with the default command timeout.
func NewManager() *Manager {
	return &Manager{
		Timeout:        30 * time.Second,
		mountTablePath: "/proc/mounts",
		geteuid:        os.Geteuid,
		runCommand:     runCommand,
		mkdirTemp: func() (string, error) {
			return os.MkdirTemp("", "nascert-mnt-")
		},
		writeCredentials: writeCredentialsFile,
	}
}

// writeCredentialsFile writes a mount.cifs credentials file readable only
// by the mounting user, so the password stays out of the mount argv.
func writeCredentialsFile(opts *SMBOptions) (string, error) {
	f, err := os.CreateTemp("", "nascert-cred-")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(opts.CredentialsFile()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Mount attaches the target at a freshly created temporary mount point and
// verifies the attachment against the live mount table before returning.
// The mount point is chowned to uid:gid so non-privileged test code can use
// it; a chown failure is logged but does not fail the mount.
func (m *Manager) Mount(ctx context.Context, target *Target, uid, gid int) (*Handle, error) {
	opts := target.MountOptions()
	source := target.Source()

	handle := &Handle{Target: target, State: StateMounting}

	logging.Info("Mount", "mounting %s export %s (options: %s)", target.VersionLabel(), source, opts)

	// Dry runs never touch the system, so they work unprivileged.
	if m.DryRun {
		logging.Warn("Mount", "dry run: mount -t %s -o %s %s <mount-point> not executed", target.FilesystemType(), opts, source)
		handle.State = StateMounted
		return handle, nil
	}

	if m.geteuid() != 0 {
		return nil, ErrNotRoot
	}

	// SMB passwords go through a credentials file; opts above is the
	// masked form and must never reach the command line.
	cmdOpts := opts
	if target.Protocol == ProtocolSMB && target.SMB.Password != "" {
		credPath, err := m.writeCredentials(target.SMB)
		if err != nil {
			handle.State = StateFailed
			return nil, fmt.Errorf("writing SMB credentials file: %w", err)
		}
		defer os.Remove(credPath)
		cmdOpts = target.CommandOptions(credPath)
	}

	mountPoint, err := m.mkdirTemp()
	if err != nil {
		handle.State = StateFailed
		return nil, fmt.Errorf("creating mount point: %w", err)
	}
	handle.MountPoint = mountPoint

	cmdCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	_, stderr, err := m.runCommand(cmdCtx, "mount", "-t", target.FilesystemType(), "-o", cmdOpts, source, mountPoint)
	if err != nil {
		handle.State = StateFailed
		os.Remove(mountPoint)
		cause := err
		if cmdCtx.Err() != nil {
			cause = fmt.Errorf("timed out after %s: %w", m.Timeout, cmdCtx.Err())
		}
		return nil, &MountError{Op: "mount", Source: source, Point: mountPoint, Stderr: strings.TrimSpace(stderr), Err: cause}
	}

	// A zero exit is not proof of a live mount; verify against the kernel
	// mount table before declaring success.
	_, found, err := FindEntry(m.mountTablePath, mountPoint)
	if err != nil {
		handle.State = StateFailed
		os.Remove(mountPoint)
		return nil, &MountError{Op: "mount", Source: source, Point: mountPoint, Err: err}
	}
	if !found {
		handle.State = StateFailed
		os.Remove(mountPoint)
		return nil, &MountError{Op: "mount", Source: source, Point: mountPoint, Err: ErrNotInMountTable}
	}

	handle.State = StateMounted
	logging.Info("Mount", "%s mounted at %s", source, mountPoint)

	if uid != 0 || gid != 0 {
		if err := os.Chown(mountPoint, uid, gid); err != nil {
			// The mount itself succeeded; tests running as root still work.
			logging.Warn("Mount", "failed to chown %s to %d:%d: %v", mountPoint, uid, gid, err)
		} else {
			logging.Debug("Mount", "set ownership of %s to %d:%d", mountPoint, uid, gid)
		}
	}

	return handle, nil
}

// Unmount detaches the handle and removes its mount point directory. It is
// idempotent: an already-unmounted handle or an already-removed mount point
// is success, never an error.
func (m *Manager) Unmount(ctx context.Context, handle *Handle, force, lazy bool) error {
	if handle == nil || handle.State == StateUnmounted {
		return nil
	}
	if m.DryRun || handle.MountPoint == "" {
		handle.State = StateUnmounted
		return nil
	}
	if m.geteuid() != 0 {
		return ErrNotRoot
	}

	if _, err := os.Stat(handle.MountPoint); errors.Is(err, os.ErrNotExist) {
		handle.State = StateUnmounted
		return nil
	}

	handle.State = StateUnmounting

	args := make([]string, 0, 3)
	if force {
		args = append(args, "-f")
	}
	if lazy {
		args = append(args, "-l")
	}
	args = append(args, handle.MountPoint)

	cmdCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	_, stderr, err := m.runCommand(cmdCtx, "umount", args...)
	if err != nil {
		// "not mounted" means someone beat us to it; that is the state we
		// wanted anyway.
		if strings.Contains(stderr, "not mounted") || strings.Contains(stderr, "not found") {
			logging.Debug("Mount", "%s already unmounted", handle.MountPoint)
		} else {
			handle.State = StateFailed
			cause := err
			if cmdCtx.Err() != nil {
				cause = fmt.Errorf("timed out after %s: %w", m.Timeout, cmdCtx.Err())
			}
			return &MountError{Op: "umount", Source: handle.Target.Source(), Point: handle.MountPoint, Stderr: strings.TrimSpace(stderr), Err: cause}
		}
	}

	if err := os.Remove(handle.MountPoint); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("Mount", "mount point directory %s not removed: %v", handle.MountPoint, err)
	}

	handle.State = StateUnmounted
	logging.Info("Mount", "unmounted %s", handle.MountPoint)
	return nil
}
