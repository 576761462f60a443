package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTarget(t *testing.T) *Target {
	t.Helper()
	opts, err := NewNFSOptions(3, 0)
	require.NoError(t, err)
	return &Target{
		Vendor:     "NetApp",
		Software:   "ONTAP 9.16.1",
		Server:     "svmtest",
		Export:     "/vol1",
		Protocol:   ProtocolNFS,
		MountType:  MountTypeReadWrite,
		HostAccess: HostAccessWrite,
		NFS:        opts,
	}
}

// fakeManager returns a Manager with all OS touchpoints stubbed out.
func fakeManager(t *testing.T) (*Manager, *[]string) {
	t.Helper()
	var commands []string
	m := NewManager()
	m.Timeout = time.Second
	m.geteuid = func() int { return 0 }
	m.mkdirTemp = func() (string, error) {
		dir := filepath.Join(t.TempDir(), "mnt")
		return dir, os.Mkdir(dir, 0755)
	}
	m.runCommand = func(ctx context.Context, name string, args ...string) (string, string, error) {
		commands = append(commands, name)
		return "", "", nil
	}
	return m, &commands
}

func writeLiveMountTable(t *testing.T, m *Manager, mountPoint string) {
	t.Helper()
	table := fmt.Sprintf("svmtest:/vol1 %s nfs rw,vers=3 0 0\n", mountPoint)
	path := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(path, []byte(table), 0644))
	m.mountTablePath = path
}

func TestMountRequiresRoot(t *testing.T) {
	m, _ := fakeManager(t)
	m.geteuid = func() int { return 1000 }

	_, err := m.Mount(context.Background(), testTarget(t), 1000, 1000)
	assert.ErrorIs(t, err, ErrNotRoot)
}

func TestMountDryRunDoesNotExecute(t *testing.T) {
	m, commands := fakeManager(t)
	m.DryRun = true
	m.geteuid = func() int { return 1000 } // dry runs work unprivileged

	handle, err := m.Mount(context.Background(), testTarget(t), 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, StateMounted, handle.State)
	assert.Empty(t, *commands, "dry run must not invoke any command")
}

func TestMountVerifiesMountTable(t *testing.T) {
	m, commands := fakeManager(t)

	var mountPoint string
	inner := m.mkdirTemp
	m.mkdirTemp = func() (string, error) {
		dir, err := inner()
		mountPoint = dir
		// Mount table is created lazily so it can reference the real dir.
		writeLiveMountTable(t, m, dir)
		return dir, err
	}

	handle, err := m.Mount(context.Background(), testTarget(t), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StateMounted, handle.State)
	assert.Equal(t, mountPoint, handle.MountPoint)
	assert.Equal(t, []string{"mount"}, *commands)
}

func TestMountSMBUsesCredentialsFile(t *testing.T) {
	m, _ := fakeManager(t)

	var gotArgs []string
	var credDuringMount, credContents string
	m.runCommand = func(ctx context.Context, name string, args ...string) (string, string, error) {
		gotArgs = args
		for _, arg := range args {
			for _, opt := range strings.Split(arg, ",") {
				if strings.HasPrefix(opt, "credentials=") {
					credDuringMount = strings.TrimPrefix(opt, "credentials=")
					raw, err := os.ReadFile(credDuringMount)
					require.NoError(t, err, "credentials file must exist while mount runs")
					credContents = string(raw)
				}
			}
		}
		return "", "", nil
	}
	inner := m.mkdirTemp
	m.mkdirTemp = func() (string, error) {
		dir, err := inner()
		writeLiveMountTable(t, m, dir)
		return dir, err
	}

	smbOpts := NewSMBOptions()
	smbOpts.Username = "qauser"
	smbOpts.Password = "Sup3rSecret!"
	target := &Target{
		Vendor:     "NetApp",
		Server:     "filer01",
		Export:     "share1",
		Protocol:   ProtocolSMB,
		MountType:  MountTypeReadWrite,
		HostAccess: HostAccessWrite,
		SMB:        smbOpts,
	}

	_, err := m.Mount(context.Background(), target, 0, 0)
	require.NoError(t, err)

	for _, arg := range gotArgs {
		assert.NotContains(t, arg, "Sup3rSecret!", "password must not reach the mount argv")
	}
	require.NotEmpty(t, credDuringMount, "mount argv carries no credentials= option")
	assert.Contains(t, credContents, "username=qauser")
	assert.Contains(t, credContents, "password=Sup3rSecret!")

	// The credentials file lived only for the duration of the command.
	raw, err := os.ReadFile(credDuringMount)
	if err == nil {
		t.Fatalf("credentials file %s still present with contents %q", credDuringMount, raw)
	}
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMountSMBCredentialsWriteFailureFailsMount(t *testing.T) {
	m, commands := fakeManager(t)
	m.writeCredentials = func(opts *SMBOptions) (string, error) {
		return "", errors.New("read-only /tmp")
	}

	smbOpts := NewSMBOptions()
	smbOpts.Username = "qauser"
	smbOpts.Password = "Sup3rSecret!"
	target := &Target{
		Vendor:     "NetApp",
		Server:     "filer01",
		Export:     "share1",
		Protocol:   ProtocolSMB,
		MountType:  MountTypeReadWrite,
		HostAccess: HostAccessWrite,
		SMB:        smbOpts,
	}

	_, err := m.Mount(context.Background(), target, 0, 0)
	require.Error(t, err)
	assert.Empty(t, *commands, "mount must not run without its credentials file")
}

func TestMountExitZeroButNotInTableFails(t *testing.T) {
	m, _ := fakeManager(t)
	// A table that does not contain the new mount point.
	path := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(path, []byte("proc /proc proc rw 0 0\n"), 0644))
	m.mountTablePath = path

	_, err := m.Mount(context.Background(), testTarget(t), 0, 0)
	require.Error(t, err)

	var mountErr *MountError
	require.ErrorAs(t, err, &mountErr)
	assert.ErrorIs(t, err, ErrNotInMountTable)
}

func TestMountTableReadErrorRemovesMountPoint(t *testing.T) {
	m, _ := fakeManager(t)
	m.mountTablePath = filepath.Join(t.TempDir(), "missing-mounts")

	var mountPoint string
	inner := m.mkdirTemp
	m.mkdirTemp = func() (string, error) {
		dir, err := inner()
		mountPoint = dir
		return dir, err
	}

	_, err := m.Mount(context.Background(), testTarget(t), 0, 0)
	require.Error(t, err)
	assert.NoDirExists(t, mountPoint, "mount point must not leak on a verification error")
}

func TestMountCommandFailureCarriesStderr(t *testing.T) {
	m, _ := fakeManager(t)
	m.runCommand = func(ctx context.Context, name string, args ...string) (string, string, error) {
		return "", "mount.nfs: access denied by server", errors.New("exit status 32")
	}

	_, err := m.Mount(context.Background(), testTarget(t), 0, 0)
	require.Error(t, err)

	var mountErr *MountError
	require.ErrorAs(t, err, &mountErr)
	assert.Equal(t, "mount", mountErr.Op)
	assert.Contains(t, mountErr.Stderr, "access denied")
}

func TestUnmountIdempotent(t *testing.T) {
	m, commands := fakeManager(t)

	// Already unmounted handle: success, no command.
	handle := &Handle{Target: testTarget(t), State: StateUnmounted}
	assert.NoError(t, m.Unmount(context.Background(), handle, false, false))
	assert.Empty(t, *commands)

	// Nil handle: success.
	assert.NoError(t, m.Unmount(context.Background(), nil, false, false))

	// Mount point directory already gone: success, no command.
	handle = &Handle{
		Target:     testTarget(t),
		State:      StateMounted,
		MountPoint: filepath.Join(t.TempDir(), "vanished"),
	}
	assert.NoError(t, m.Unmount(context.Background(), handle, true, true))
	assert.Equal(t, StateUnmounted, handle.State)
	assert.Empty(t, *commands)
}

func TestUnmountRemovesMountPoint(t *testing.T) {
	m, _ := fakeManager(t)

	dir := filepath.Join(t.TempDir(), "mnt")
	require.NoError(t, os.Mkdir(dir, 0755))
	handle := &Handle{Target: testTarget(t), State: StateMounted, MountPoint: dir}

	require.NoError(t, m.Unmount(context.Background(), handle, true, true))
	assert.Equal(t, StateUnmounted, handle.State)
	assert.NoDirExists(t, dir)
}

func TestUnmountTreatsNotMountedAsSuccess(t *testing.T) {
	m, _ := fakeManager(t)
	m.runCommand = func(ctx context.Context, name string, args ...string) (string, string, error) {
		return "", "umount: /tmp/x: not mounted.", errors.New("exit status 32")
	}

	dir := filepath.Join(t.TempDir(), "mnt")
	require.NoError(t, os.Mkdir(dir, 0755))
	handle := &Handle{Target: testTarget(t), State: StateMounted, MountPoint: dir}

	assert.NoError(t, m.Unmount(context.Background(), handle, false, false))
	assert.Equal(t, StateUnmounted, handle.State)
}

func TestUnmountFailurePropagates(t *testing.T) {
	m, _ := fakeManager(t)
	m.runCommand = func(ctx context.Context, name string, args ...string) (string, string, error) {
		return "", "umount: /tmp/x: target is busy.", errors.New("exit status 32")
	}

	dir := filepath.Join(t.TempDir(), "mnt")
	require.NoError(t, os.Mkdir(dir, 0755))
	handle := &Handle{Target: testTarget(t), State: StateMounted, MountPoint: dir}

	err := m.Unmount(context.Background(), handle, false, false)
	require.Error(t, err)

	var mountErr *MountError
	require.ErrorAs(t, err, &mountErr)
	assert.Equal(t, "umount", mountErr.Op)
	assert.Equal(t, StateFailed, handle.State)
}

func TestUnmountFlags(t *testing.T) {
	m, _ := fakeManager(t)

	var gotArgs []string
	m.runCommand = func(ctx context.Context, name string, args ...string) (string, string, error) {
		gotArgs = args
		return "", "", nil
	}

	dir := filepath.Join(t.TempDir(), "mnt")
	require.NoError(t, os.Mkdir(dir, 0755))
	handle := &Handle{Target: testTarget(t), State: StateMounted, MountPoint: dir}

	require.NoError(t, m.Unmount(context.Background(), handle, true, true))
	assert.Equal(t, []string{"-f", "-l", dir}, gotArgs)
}
