// Package harness provides the conformance case model and the engine
// that executes cases against a mounted filesystem with failure
// isolation: a panic or error in one case never prevents the remaining
// cases from running.
package harness

import (
	"context"
	"time"

	"nascert/internal/mount"
)

// Scope restricts a case to the protocol families it is meaningful for.
type Scope int

const (
	// ScopeAllNFS runs against any NFS mount regardless of version.
	ScopeAllNFS Scope = iota
	// ScopeNFSv3 runs only against NFSv3 mounts.
	ScopeNFSv3
	// ScopeNFSv4 runs only against NFSv4 mounts (any minor version).
	ScopeNFSv4
	// ScopeSMB runs only against SMB/CIFS mounts.
	ScopeSMB
)

func (s Scope) String() string {
	switch s {
	case ScopeAllNFS:
		return "nfs"
	case ScopeNFSv3:
		return "nfsv3"
	case ScopeNFSv4:
		return "nfsv4"
	case ScopeSMB:
		return "smb"
	default:
		return "unknown"
	}
}

// Access declares what a case needs from the mount and the exported
// share before it can produce a meaningful verdict.
type Access int

const (
	// AccessAny runs on every matching mount.
	AccessAny Access = iota
	// AccessWrite requires a read-write mount on a share that grants
	// the client write access.
	AccessWrite
	// AccessReadOnly requires a share that grants the client read
	// access; it is used by cases that verify write denial.
	AccessReadOnly
)

// Env is the environment a case executes in. MountPoint is the local
// directory the target is mounted on; Target describes what was
// mounted and how.
type Env struct {
	MountPoint string
	Target     *mount.Target
}

// Case is one conformance check. Run returns a human-readable detail
// message on success and an error on failure; Run may also record
// intermediate steps through the StepRecorder.
type Case struct {
	Name        string
	Description string
	Scope       Scope
	Access      Access
	Run         func(ctx context.Context, env Env, steps StepRecorder) (string, error)
}

// Eligible reports whether the case should be invoked for the given
// target. Ineligible cases are skipped entirely and produce no result.
func (c Case) Eligible(t *mount.Target) bool {
	switch c.Scope {
	case ScopeAllNFS:
		if t.Protocol != mount.ProtocolNFS {
			return false
		}
	case ScopeNFSv3:
		if t.Protocol != mount.ProtocolNFS || t.NFS == nil || t.NFS.MajorVersion != 3 {
			return false
		}
	case ScopeNFSv4:
		if t.Protocol != mount.ProtocolNFS || t.NFS == nil || t.NFS.MajorVersion != 4 {
			return false
		}
	case ScopeSMB:
		if t.Protocol != mount.ProtocolSMB {
			return false
		}
	}

	switch c.Access {
	case AccessWrite:
		return t.MountType == mount.MountTypeReadWrite && t.HostAccess == mount.HostAccessWrite
	case AccessReadOnly:
		return t.HostAccess == mount.HostAccessRead
	}
	return true
}

// StepRecorder lets a case log the actions it took so the report can
// show what happened before a verdict was reached.
type StepRecorder interface {
	Step(format string, args ...interface{})
}

// Result is the outcome of one invoked case.
type Result struct {
	Name        string
	Description string
	Passed      bool
	Message     string
	Timestamp   time.Time
	Steps       []string
}
