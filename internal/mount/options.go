package mount

import (
	"fmt"
	"strings"
)

// Protocol identifies the file-sharing protocol of a target.
type Protocol string

const (
	// ProtocolNFS is an NFS export mounted through the kernel NFS client.
	ProtocolNFS Protocol = "nfs"
	// ProtocolSMB is an SMB share mounted through the kernel CIFS client.
	ProtocolSMB Protocol = "smb"
)

// MountType is how the target is attached locally, independent of what
// access the export policy actually grants.
type MountType string

const (
	MountTypeReadOnly  MountType = "ro"
	MountTypeReadWrite MountType = "rw"
)

// HostAccess is the access level the client is supposed to have according
// to the export/share policy. It is deliberately kept separate from
// MountType: a target may be mounted read-write against a read-only export
// to validate server-side enforcement.
type HostAccess string

const (
	HostAccessRead  HostAccess = "read"
	HostAccessWrite HostAccess = "write"
)

// NFSOptions holds the NFS client options for one target. Construct through
// NewNFSOptions so that version combinations are rejected up front rather
// than deep inside option-string building.
type NFSOptions struct {
	MajorVersion int
	MinorVersion int // NFSv4 only: 0, 1 or 2
	Transport    string
	Rsize        int
	Wsize        int
	Timeo        int
	Retrans      int
	Soft         bool
	Intr         bool
	NoAC         bool
	Actimeo      int // 0 means unset; overrides the four ac* fields
	Acregmin     int
	Acregmax     int
	Acdirmin     int
	Acdirmax     int

	// NFSv4.1+ only.
	PNFS         bool
	NConnect     int // 0 means disabled
	NoShareCache bool
	NoRdirplus   bool

	Sec string
}

// NewNFSOptions returns options for the given NFS version with the defaults
// the harness mounts with, or an error for an unsupported version.
func NewNFSOptions(major, minor int) (*NFSOptions, error) {
	if major != 3 && major != 4 {
		return nil, fmt.Errorf("unsupported NFS major version %d (must be 3 or 4)", major)
	}
	if major == 3 && minor != 0 {
		return nil, fmt.Errorf("NFSv3 has no minor version (got %d)", minor)
	}
	if major == 4 && (minor < 0 || minor > 2) {
		return nil, fmt.Errorf("invalid NFSv4 minor version %d (must be 0, 1 or 2)", minor)
	}
	return &NFSOptions{
		MajorVersion: major,
		MinorVersion: minor,
		Transport:    "tcp",
		Rsize:        1048576,
		Wsize:        1048576,
		Timeo:        600,
		Retrans:      2,
		Intr:         true,
		Acregmin:     3,
		Acregmax:     60,
		Acdirmin:     30,
		Acdirmax:     60,
		Sec:          "sys",
	}, nil
}

// Validate checks the full option combination. It is run at configuration
// load time, before any mount command is built.
func (o *NFSOptions) Validate() error {
	if o.MajorVersion != 3 && o.MajorVersion != 4 {
		return fmt.Errorf("unsupported NFS major version %d", o.MajorVersion)
	}
	if o.MajorVersion == 4 && (o.MinorVersion < 0 || o.MinorVersion > 2) {
		return fmt.Errorf("invalid NFSv4 minor version %d (must be 0, 1 or 2)", o.MinorVersion)
	}
	switch o.Transport {
	case "tcp", "udp", "rdma":
	default:
		return fmt.Errorf("invalid transport %q (must be tcp, udp or rdma)", o.Transport)
	}
	switch o.Sec {
	case "sys", "krb5", "krb5i", "krb5p":
	default:
		return fmt.Errorf("invalid security flavor %q (must be sys, krb5, krb5i or krb5p)", o.Sec)
	}
	if o.Rsize <= 0 || o.Wsize <= 0 {
		return fmt.Errorf("rsize and wsize must be positive (got %d/%d)", o.Rsize, o.Wsize)
	}
	if !o.supportsV41Features() {
		if o.PNFS {
			return fmt.Errorf("pnfs requires NFSv4.1 or later")
		}
		if o.NConnect > 0 {
			return fmt.Errorf("nconnect requires NFSv4.1 or later")
		}
		if o.NoShareCache {
			return fmt.Errorf("nosharecache requires NFSv4.1 or later")
		}
		if o.NoRdirplus {
			return fmt.Errorf("nordirplus requires NFSv4.1 or later")
		}
	}
	return nil
}

func (o *NFSOptions) supportsV41Features() bool {
	return o.MajorVersion == 4 && o.MinorVersion >= 1
}

// String renders the comma-separated mount option list, excluding the
// ro/rw mode which belongs to the target.
func (o *NFSOptions) String() string {
	opts := make([]string, 0, 16)

	if o.MajorVersion == 3 {
		opts = append(opts, "vers=3")
	} else {
		opts = append(opts, fmt.Sprintf("vers=4.%d", o.MinorVersion))
	}
	opts = append(opts,
		fmt.Sprintf("proto=%s", o.Transport),
		fmt.Sprintf("rsize=%d", o.Rsize),
		fmt.Sprintf("wsize=%d", o.Wsize),
		fmt.Sprintf("timeo=%d", o.Timeo),
		fmt.Sprintf("retrans=%d", o.Retrans),
	)

	if o.Soft {
		opts = append(opts, "soft")
	} else {
		opts = append(opts, "hard")
	}
	// intr is ignored by NFSv4 client implementations.
	if o.Intr && o.MajorVersion == 3 {
		opts = append(opts, "intr")
	}

	switch {
	case o.NoAC:
		opts = append(opts, "noac")
	case o.Actimeo > 0:
		opts = append(opts, fmt.Sprintf("actimeo=%d", o.Actimeo))
	default:
		opts = append(opts,
			fmt.Sprintf("acregmin=%d", o.Acregmin),
			fmt.Sprintf("acregmax=%d", o.Acregmax),
			fmt.Sprintf("acdirmin=%d", o.Acdirmin),
			fmt.Sprintf("acdirmax=%d", o.Acdirmax),
		)
	}

	if o.supportsV41Features() {
		if o.PNFS {
			opts = append(opts, "pnfs")
		}
		if o.NConnect > 0 {
			opts = append(opts, fmt.Sprintf("nconnect=%d", o.NConnect))
		}
		if o.NoShareCache {
			opts = append(opts, "nosharecache")
		}
		if o.NoRdirplus {
			opts = append(opts, "nordirplus")
		}
	}

	opts = append(opts, fmt.Sprintf("sec=%s", o.Sec))
	return strings.Join(opts, ",")
}

// VersionLabel returns the human-readable protocol version, e.g. "NFSv3"
// or "NFSv4.1".
func (o *NFSOptions) VersionLabel() string {
	if o.MajorVersion == 3 {
		return "NFSv3"
	}
	return fmt.Sprintf("NFSv4.%d", o.MinorVersion)
}

// SMBOptions holds the CIFS client options for one SMB share.
type SMBOptions struct {
	Username       string
	Password       string
	Domain         string
	Dialect        string // e.g. "3.0", "3.1.1"
	Seal           bool   // require encryption
	RequireSigning bool
}

// NewSMBOptions returns options with the harness defaults.
func NewSMBOptions() *SMBOptions {
	return &SMBOptions{Dialect: "3.0"}
}

// Validate checks the SMB option combination.
func (o *SMBOptions) Validate() error {
	switch o.Dialect {
	case "2.0", "2.1", "3.0", "3.02", "3.1.1":
	default:
		return fmt.Errorf("invalid SMB dialect %q", o.Dialect)
	}
	if o.Username == "" {
		return fmt.Errorf("SMB targets require a username")
	}
	return nil
}

// String renders the comma-separated CIFS option list, excluding ro/rw.
// The password is masked: this form goes into logs and reports, never
// into a mount command. CommandString builds the executable form.
func (o *SMBOptions) String() string {
	opts := []string{
		fmt.Sprintf("vers=%s", o.Dialect),
		fmt.Sprintf("username=%s", o.Username),
	}
	if o.Password != "" {
		opts = append(opts, "password=********")
	}
	return strings.Join(append(opts, o.sharedOptions()...), ",")
}

// CommandString renders the option list for the mount command itself.
// Credentials are referenced through a mode-0600 credentials file so the
// password never appears in the process argument list.
func (o *SMBOptions) CommandString(credentialsPath string) string {
	opts := []string{
		fmt.Sprintf("vers=%s", o.Dialect),
		fmt.Sprintf("credentials=%s", credentialsPath),
	}
	return strings.Join(append(opts, o.sharedOptions()...), ",")
}

// CredentialsFile returns the contents mount.cifs expects in a
// credentials= file.
func (o *SMBOptions) CredentialsFile() []byte {
	lines := fmt.Sprintf("username=%s\npassword=%s\n", o.Username, o.Password)
	if o.Domain != "" {
		lines += fmt.Sprintf("domain=%s\n", o.Domain)
	}
	return []byte(lines)
}

// sharedOptions are the non-credential options common to both forms.
func (o *SMBOptions) sharedOptions() []string {
	var opts []string
	if o.Domain != "" {
		opts = append(opts, fmt.Sprintf("domain=%s", o.Domain))
	}
	if o.Seal {
		opts = append(opts, "seal")
	}
	if o.RequireSigning {
		opts = append(opts, "sec=ntlmsspi")
	} else {
		opts = append(opts, "sec=ntlmssp")
	}
	return opts
}

// VersionLabel returns the human-readable SMB dialect, e.g. "SMB 3.0".
func (o *SMBOptions) VersionLabel() string {
	return "SMB " + o.Dialect
}
