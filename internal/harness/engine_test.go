package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nascert/internal/mount"
)

func nfsTarget(t *testing.T, major, minor int, mt mount.MountType, ha mount.HostAccess) *mount.Target {
	t.Helper()
	opts, err := mount.NewNFSOptions(major, minor)
	require.NoError(t, err)
	return &mount.Target{
		Vendor:     "acme",
		Software:   "acmefs",
		Server:     "198.51.100.10",
		Export:     "/export/conf",
		Protocol:   mount.ProtocolNFS,
		MountType:  mt,
		HostAccess: ha,
		NFS:        opts,
	}
}

func smbTarget(t *testing.T) *mount.Target {
	t.Helper()
	return &mount.Target{
		Vendor:     "acme",
		Software:   "acmefs",
		Server:     "198.51.100.10",
		Export:     "share",
		Protocol:   mount.ProtocolSMB,
		MountType:  mount.MountTypeReadWrite,
		HostAccess: mount.HostAccessWrite,
		SMB:        &mount.SMBOptions{Username: "u", Password: "p"},
	}
}

func passingCase(name string) Case {
	return Case{
		Name:        name,
		Description: name + " description",
		Scope:       ScopeAllNFS,
		Run: func(ctx context.Context, env Env, steps StepRecorder) (string, error) {
			return "ok", nil
		},
	}
}

func TestRunRecordsOneResultPerInvokedCase(t *testing.T) {
	env := Env{MountPoint: t.TempDir(), Target: nfsTarget(t, 3, 0, mount.MountTypeReadWrite, mount.HostAccessWrite)}
	cases := []Case{
		passingCase("first"),
		{
			Name:        "second",
			Description: "fails with an error",
			Scope:       ScopeAllNFS,
			Run: func(ctx context.Context, env Env, steps StepRecorder) (string, error) {
				steps.Step("attempted the thing")
				return "", errors.New("broke")
			},
		},
		{
			Name:        "third",
			Description: "panics",
			Scope:       ScopeAllNFS,
			Run: func(ctx context.Context, env Env, steps StepRecorder) (string, error) {
				panic("unexpected state")
			},
		},
		passingCase("fourth"),
	}

	rec := &Recorder{}
	(&Engine{}).Run(context.Background(), cases, env, rec)

	results := rec.Results()
	require.Len(t, results, 4)

	assert.Equal(t, "first", results[0].Name)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "ok", results[0].Message)

	assert.Equal(t, "second", results[1].Name)
	assert.False(t, results[1].Passed)
	assert.Equal(t, "broke", results[1].Message)
	assert.Equal(t, []string{"attempted the thing"}, results[1].Steps)

	assert.Equal(t, "third", results[2].Name)
	assert.False(t, results[2].Passed)
	assert.Contains(t, results[2].Message, "panic: unexpected state")

	assert.Equal(t, "fourth", results[3].Name)
	assert.True(t, results[3].Passed)

	for _, res := range results {
		assert.False(t, res.Timestamp.IsZero(), "result %s missing timestamp", res.Name)
	}
}

func TestRunSkipsIneligibleCasesWithoutInvoking(t *testing.T) {
	invoked := 0
	v4Only := Case{
		Name:  "v4-feature",
		Scope: ScopeNFSv4,
		Run: func(ctx context.Context, env Env, steps StepRecorder) (string, error) {
			invoked++
			return "ok", nil
		},
	}
	smbOnly := Case{
		Name:  "smb-feature",
		Scope: ScopeSMB,
		Run: func(ctx context.Context, env Env, steps StepRecorder) (string, error) {
			invoked++
			return "ok", nil
		},
	}

	env := Env{MountPoint: t.TempDir(), Target: nfsTarget(t, 3, 0, mount.MountTypeReadWrite, mount.HostAccessWrite)}
	rec := &Recorder{}
	(&Engine{}).Run(context.Background(), []Case{v4Only, smbOnly}, env, rec)

	assert.Zero(t, invoked)
	assert.Empty(t, rec.Results())
}

func TestEligibleScopeAndAccess(t *testing.T) {
	v3rw := nfsTarget(t, 3, 0, mount.MountTypeReadWrite, mount.HostAccessWrite)
	v41ro := nfsTarget(t, 4, 1, mount.MountTypeReadOnly, mount.HostAccessRead)
	rwOnReadShare := nfsTarget(t, 4, 0, mount.MountTypeReadWrite, mount.HostAccessRead)
	smb := smbTarget(t)

	tests := []struct {
		name   string
		c      Case
		target *mount.Target
		want   bool
	}{
		{"all nfs matches v3", Case{Scope: ScopeAllNFS}, v3rw, true},
		{"all nfs matches v4", Case{Scope: ScopeAllNFS}, v41ro, true},
		{"all nfs rejects smb", Case{Scope: ScopeAllNFS}, smb, false},
		{"v3 scope rejects v4", Case{Scope: ScopeNFSv3}, v41ro, false},
		{"v4 scope matches v4.1", Case{Scope: ScopeNFSv4}, v41ro, true},
		{"smb scope matches smb", Case{Scope: ScopeSMB}, smb, true},
		{"write access needs rw mount and write host access", Case{Scope: ScopeAllNFS, Access: AccessWrite}, v3rw, true},
		{"write access rejects ro mount", Case{Scope: ScopeAllNFS, Access: AccessWrite}, v41ro, false},
		{"write access rejects read-only host access", Case{Scope: ScopeAllNFS, Access: AccessWrite}, rwOnReadShare, false},
		{"read-only access needs read host access", Case{Scope: ScopeAllNFS, Access: AccessReadOnly}, v41ro, true},
		{"read-only access rejects write host access", Case{Scope: ScopeAllNFS, Access: AccessReadOnly}, v3rw, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Eligible(tt.target))
		})
	}
}

func TestRunCancelledContextRecordsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invoked := 0
	c := Case{
		Name:  "never-runs",
		Scope: ScopeAllNFS,
		Run: func(ctx context.Context, env Env, steps StepRecorder) (string, error) {
			invoked++
			return "ok", nil
		},
	}

	env := Env{MountPoint: t.TempDir(), Target: nfsTarget(t, 3, 0, mount.MountTypeReadWrite, mount.HostAccessWrite)}
	rec := &Recorder{}
	(&Engine{}).Run(ctx, []Case{c, c}, env, rec)

	assert.Zero(t, invoked)
	results := rec.Results()
	require.Len(t, results, 2)
	for _, res := range results {
		assert.False(t, res.Passed)
		assert.Contains(t, res.Message, "not run")
	}
}

func TestRunPerCaseTimeout(t *testing.T) {
	c := Case{
		Name:  "waits-for-deadline",
		Scope: ScopeAllNFS,
		Run: func(ctx context.Context, env Env, steps StepRecorder) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	env := Env{MountPoint: t.TempDir(), Target: nfsTarget(t, 3, 0, mount.MountTypeReadWrite, mount.HostAccessWrite)}
	rec := &Recorder{}
	(&Engine{Timeout: 10 * time.Millisecond}).Run(context.Background(), []Case{c}, env, rec)

	results := rec.Results()
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "deadline")
}
