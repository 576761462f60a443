package suites

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nascert/internal/harness"
	"nascert/internal/mount"
)

type testSteps struct {
	steps []string
}

func (s *testSteps) Step(format string, args ...interface{}) {
	s.steps = append(s.steps, fmt.Sprintf(format, args...))
}

func writableNFSTarget(t *testing.T, major, minor int) *mount.Target {
	t.Helper()
	opts, err := mount.NewNFSOptions(major, minor)
	require.NoError(t, err)
	return &mount.Target{
		Vendor:     "acme",
		Software:   "acmefs",
		Server:     "198.51.100.10",
		Export:     "/export/conf",
		Protocol:   mount.ProtocolNFS,
		MountType:  mount.MountTypeReadWrite,
		HostAccess: mount.HostAccessWrite,
		NFS:        opts,
	}
}

func caseByName(t *testing.T, name string) harness.Case {
	t.Helper()
	for _, c := range All() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no case named %s", name)
	return harness.Case{}
}

func TestAllCasesWellFormed(t *testing.T) {
	cases := All()
	require.NotEmpty(t, cases)

	seen := map[string]bool{}
	for _, c := range cases {
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Description, "case %s has no description", c.Name)
		assert.NotNil(t, c.Run, "case %s has no body", c.Name)
		assert.False(t, seen[c.Name], "duplicate case name %s", c.Name)
		seen[c.Name] = true
	}
}

func TestAllOrderIsStable(t *testing.T) {
	first := All()
	second := All()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}
	// Shared NFS cases come before version- and protocol-specific ones.
	assert.Equal(t, "mount-options-verification", first[0].Name)
}

func TestExpectedDenial(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"erofs path error", &fs.PathError{Op: "open", Path: "/mnt/x", Err: syscall.EROFS}, true},
		{"eacces path error", &fs.PathError{Op: "mkdir", Path: "/mnt/x", Err: syscall.EACCES}, true},
		{"eperm", syscall.EPERM, true},
		{"fs.ErrPermission", fs.ErrPermission, true},
		{"unrelated errno", syscall.EIO, false},
		{"plain error", errors.New("server unreachable"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expectedDenial(tt.err))
		})
	}
}

// The write-path case bodies only use the portable file API, so they
// can be exercised end to end against a local directory.
func TestWriteCasesPassOnLocalFilesystem(t *testing.T) {
	names := []string{
		"read-write-enforcement",
		"basic-file-operations",
		"idempotent-operations",
		"close-to-open-consistency",
		"nlm-flock-locking",
		"small-file-performance",
		"concurrent-writers",
		"large-sequential-io",
		"nfsv4-stateful-open",
		"nfsv4-read-delegation-smoke",
		"nfsv4-mode-attributes",
		"nfsv4-parallel-io",
		"smb-file-roundtrip",
		"smb-file-move",
		"smb-concurrent-access",
		"smb-exclusive-lock-contention",
		"smb-large-file-checksum",
		"smb-many-small-files",
		"smb-byte-range-lock",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			env := harness.Env{MountPoint: t.TempDir(), Target: writableNFSTarget(t, 4, 1)}
			c := caseByName(t, name)
			msg, err := c.Run(context.Background(), env, &testSteps{})
			require.NoError(t, err)
			assert.NotEmpty(t, msg)

			entries, err := os.ReadDir(env.MountPoint)
			require.NoError(t, err)
			assert.Empty(t, entries, "case %s left scratch data behind", name)
		})
	}
}

func writeMountTableFixture(t *testing.T, mountPoint, fsType, options string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	content := "sysfs /sys sysfs rw,nosuid 0 0\n" +
		fmt.Sprintf("198.51.100.10:/export/conf %s %s %s 0 0\n", mountPoint, fsType, options)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func withMountTable(t *testing.T, path string) {
	t.Helper()
	old := mountTable
	mountTable = path
	t.Cleanup(func() { mountTable = old })
}

func TestMountOptionsVerification(t *testing.T) {
	mountPoint := t.TempDir()
	withMountTable(t, writeMountTableFixture(t, mountPoint, "nfs",
		"rw,vers=3,proto=tcp,rsize=1048576,wsize=1048576,hard"))

	env := harness.Env{MountPoint: mountPoint, Target: writableNFSTarget(t, 3, 0)}
	c := caseByName(t, "mount-options-verification")

	msg, err := c.Run(context.Background(), env, &testSteps{})
	require.NoError(t, err)
	assert.Contains(t, msg, "vers=3")
}

func TestMountOptionsVerificationVersionMismatch(t *testing.T) {
	mountPoint := t.TempDir()
	withMountTable(t, writeMountTableFixture(t, mountPoint, "nfs4", "rw,vers=4.2,proto=tcp"))

	env := harness.Env{MountPoint: mountPoint, Target: writableNFSTarget(t, 4, 1)}
	c := caseByName(t, "mount-options-verification")

	_, err := c.Run(context.Background(), env, &testSteps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vers=4.1")
}

func TestMountOptionsVerificationNotMounted(t *testing.T) {
	withMountTable(t, writeMountTableFixture(t, "/somewhere/else", "nfs", "rw,vers=3,proto=tcp"))

	env := harness.Env{MountPoint: t.TempDir(), Target: writableNFSTarget(t, 3, 0)}
	c := caseByName(t, "mount-options-verification")

	_, err := c.Run(context.Background(), env, &testSteps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present")
}

func TestTransportProtocolCheck(t *testing.T) {
	mountPoint := t.TempDir()
	withMountTable(t, writeMountTableFixture(t, mountPoint, "nfs", "rw,vers=3,proto=tcp"))

	env := harness.Env{MountPoint: mountPoint, Target: writableNFSTarget(t, 3, 0)}
	c := caseByName(t, "transport-protocol")

	msg, err := c.Run(context.Background(), env, &testSteps{})
	require.NoError(t, err)
	assert.Contains(t, msg, "tcp")

	withMountTable(t, writeMountTableFixture(t, mountPoint, "nfs", "rw,vers=3,proto=udp"))
	_, err = c.Run(context.Background(), env, &testSteps{})
	assert.Error(t, err)
}

func TestMinorVersionCheck(t *testing.T) {
	mountPoint := t.TempDir()
	withMountTable(t, writeMountTableFixture(t, mountPoint, "nfs4", "rw,vers=4.1,proto=tcp"))

	env := harness.Env{MountPoint: mountPoint, Target: writableNFSTarget(t, 4, 1)}
	c := caseByName(t, "nfsv4-minor-version")

	msg, err := c.Run(context.Background(), env, &testSteps{})
	require.NoError(t, err)
	assert.Contains(t, msg, "vers=4.1")
}

func TestReadOnlyReadOperations(t *testing.T) {
	mountPoint := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mountPoint, "existing"), []byte("data"), 0644))

	target := writableNFSTarget(t, 3, 0)
	target.MountType = mount.MountTypeReadOnly
	target.HostAccess = mount.HostAccessRead

	env := harness.Env{MountPoint: mountPoint, Target: target}
	c := caseByName(t, "read-only-read-operations")

	msg, err := c.Run(context.Background(), env, &testSteps{})
	require.NoError(t, err)
	assert.Contains(t, msg, "listed 1 entries")
}

func TestNFSVersionOption(t *testing.T) {
	v3, err := mount.NewNFSOptions(3, 0)
	require.NoError(t, err)
	assert.Equal(t, "vers=3", nfsVersionOption(v3))

	v42, err := mount.NewNFSOptions(4, 2)
	require.NoError(t, err)
	assert.Equal(t, "vers=4.2", nfsVersionOption(v42))
}
