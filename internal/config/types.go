package config

// Config is the top-level suite configuration, loaded from one yaml file.
type Config struct {
	Output     OutputConfig   `yaml:"output"`
	Syslog     SyslogConfig   `yaml:"syslog"`
	Appliances []Appliance    `yaml:"appliances"`
	Targets    []TargetConfig `yaml:"targets"`
}

// OutputConfig controls where reports and captures land and who owns them
// after a root-privileged run.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	OwnerUID int    `yaml:"ownerUid"`
	OwnerGID int    `yaml:"ownerGid"`
}

// SyslogConfig configures the capture service.
type SyslogConfig struct {
	Host string `yaml:"host,omitempty"` // bind address (default: 0.0.0.0)
	Port int    `yaml:"port,omitempty"` // shared UDP/TCP port (default: 55555)
	// DrainWaitSeconds is how long to wait after the last audit-triggering
	// action before stopping capture, absorbing appliance-side buffering.
	DrainWaitSeconds int `yaml:"drainWaitSeconds,omitempty"`
}

// Appliance is one storage system under test, identified by its management
// endpoint. The syslog destination is what the appliance is told to forward
// audit events to; it normally points back at this harness.
type Appliance struct {
	Vendor   string `yaml:"vendor"`
	Software string `yaml:"software"`

	Management struct {
		Address   string `yaml:"address"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		VerifyTLS bool   `yaml:"verifyTls,omitempty"`
	} `yaml:"management"`

	Syslog struct {
		Server   string `yaml:"server"`
		Port     int    `yaml:"port"`
		Protocol string `yaml:"protocol"` // udp or tcp
	} `yaml:"syslog"`
}

// TargetConfig is the yaml shape of one mount target. It is converted to a
// validated mount.Target at load time.
type TargetConfig struct {
	Vendor     string `yaml:"vendor"`
	Software   string `yaml:"software"`
	Server     string `yaml:"server"`
	Export     string `yaml:"export"`
	Protocol   string `yaml:"protocol,omitempty"`  // nfs (default) or smb
	MountType  string `yaml:"mountType"`           // ro or rw
	HostAccess string `yaml:"hostAccess"`          // read or write per export policy

	NFS *NFSTargetOptions `yaml:"nfs,omitempty"`
	SMB *SMBTargetOptions `yaml:"smb,omitempty"`
}

// NFSTargetOptions are the per-target NFS overrides. Zero values fall back
// to the harness defaults.
type NFSTargetOptions struct {
	MajorVersion int    `yaml:"majorVersion"`
	MinorVersion int    `yaml:"minorVersion,omitempty"`
	Transport    string `yaml:"transport,omitempty"`
	Rsize        int    `yaml:"rsize,omitempty"`
	Wsize        int    `yaml:"wsize,omitempty"`
	Timeo        int    `yaml:"timeo,omitempty"`
	Retrans      int    `yaml:"retrans,omitempty"`
	Soft         bool   `yaml:"soft,omitempty"`
	NoAC         bool   `yaml:"noac,omitempty"`
	Actimeo      int    `yaml:"actimeo,omitempty"`
	PNFS         bool   `yaml:"pnfs,omitempty"`
	NConnect     int    `yaml:"nconnect,omitempty"`
	NoShareCache bool   `yaml:"nosharecache,omitempty"`
	NoRdirplus   bool   `yaml:"nordirplus,omitempty"`
	Sec          string `yaml:"sec,omitempty"`
}

// SMBTargetOptions are the per-target SMB connection options.
type SMBTargetOptions struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Domain         string `yaml:"domain,omitempty"`
	Dialect        string `yaml:"dialect,omitempty"`
	Seal           bool   `yaml:"seal,omitempty"`
	RequireSigning bool   `yaml:"requireSigning,omitempty"`
}
