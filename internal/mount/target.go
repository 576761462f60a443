package mount

import (
	"fmt"
	"strings"
)

// Target identifies one (server, export) pairing to validate, together with
// the options it should be mounted with. Targets are immutable once built
// from configuration; one suite run consumes each target exactly once.
type Target struct {
	Vendor     string
	Software   string
	Server     string
	Export     string
	Protocol   Protocol
	MountType  MountType
	HostAccess HostAccess

	// Exactly one of these is set, matching Protocol.
	NFS *NFSOptions
	SMB *SMBOptions
}

// Validate checks the target as a whole, including its protocol options.
func (t *Target) Validate() error {
	if t.Server == "" {
		return fmt.Errorf("target has no server address")
	}
	if t.Export == "" {
		return fmt.Errorf("target has no export/share path")
	}
	switch t.MountType {
	case MountTypeReadOnly, MountTypeReadWrite:
	default:
		return fmt.Errorf("invalid mount type %q (must be ro or rw)", t.MountType)
	}
	switch t.HostAccess {
	case HostAccessRead, HostAccessWrite:
	default:
		return fmt.Errorf("invalid host access %q (must be read or write)", t.HostAccess)
	}
	switch t.Protocol {
	case ProtocolNFS:
		if t.NFS == nil {
			return fmt.Errorf("NFS target %s has no NFS options", t.Source())
		}
		return t.NFS.Validate()
	case ProtocolSMB:
		if t.SMB == nil {
			return fmt.Errorf("SMB target %s has no SMB options", t.Source())
		}
		return t.SMB.Validate()
	default:
		return fmt.Errorf("invalid protocol %q (must be nfs or smb)", t.Protocol)
	}
}

// Source returns the mount source in the form the mount command expects:
// server:/export for NFS, //server/share for SMB.
func (t *Target) Source() string {
	if t.Protocol == ProtocolSMB {
		return fmt.Sprintf("//%s/%s", t.Server, strings.TrimPrefix(t.Export, "/"))
	}
	return fmt.Sprintf("%s:%s", t.Server, t.Export)
}

// FilesystemType returns the -t argument for the mount command.
func (t *Target) FilesystemType() string {
	if t.Protocol == ProtocolSMB {
		return "cifs"
	}
	return "nfs"
}

// MountOptions renders the mount option list for logs and reports: mount
// mode first, then the protocol options. SMB passwords are masked here;
// CommandOptions builds the form the mount command runs with.
func (t *Target) MountOptions() string {
	var opts string
	switch t.Protocol {
	case ProtocolSMB:
		opts = t.SMB.String()
	default:
		opts = t.NFS.String()
	}
	return string(t.MountType) + "," + opts
}

// CommandOptions renders the -o argument for the mount command. For SMB
// targets with a credentials file, the file reference replaces the inline
// username/password so no secret reaches the process argument list.
func (t *Target) CommandOptions(credentialsPath string) string {
	if t.Protocol == ProtocolSMB && credentialsPath != "" {
		return string(t.MountType) + "," + t.SMB.CommandString(credentialsPath)
	}
	return t.MountOptions()
}

// VersionLabel returns the negotiated protocol version label for reports.
func (t *Target) VersionLabel() string {
	if t.Protocol == ProtocolSMB {
		return t.SMB.VersionLabel()
	}
	return t.NFS.VersionLabel()
}
