package config

import (
	"fmt"
	"os"

	"nascert/internal/mount"
	"nascert/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults and validates the suite configuration at path, and
// returns the validated mount targets alongside it. All invalid option
// combinations are rejected here, before any side effect.
func Load(path string) (Config, []*mount.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyDefaults(&cfg)

	targets, err := cfg.Validate()
	if err != nil {
		return Config{}, nil, err
	}

	logging.Info("Config", "loaded %d targets and %d appliances from %s", len(targets), len(cfg.Appliances), path)
	return cfg, targets, nil
}

// BuildTarget converts one yaml target into a validated mount.Target.
func BuildTarget(tc TargetConfig) (*mount.Target, error) {
	target := &mount.Target{
		Vendor:     tc.Vendor,
		Software:   tc.Software,
		Server:     tc.Server,
		Export:     tc.Export,
		Protocol:   mount.Protocol(tc.Protocol),
		MountType:  mount.MountType(tc.MountType),
		HostAccess: mount.HostAccess(tc.HostAccess),
	}

	switch target.Protocol {
	case mount.ProtocolNFS:
		nfsCfg := tc.NFS
		if nfsCfg == nil {
			nfsCfg = &NFSTargetOptions{MajorVersion: 3}
		}
		opts, err := mount.NewNFSOptions(nfsCfg.MajorVersion, nfsCfg.MinorVersion)
		if err != nil {
			return nil, err
		}
		if nfsCfg.Transport != "" {
			opts.Transport = nfsCfg.Transport
		}
		if nfsCfg.Rsize > 0 {
			opts.Rsize = nfsCfg.Rsize
		}
		if nfsCfg.Wsize > 0 {
			opts.Wsize = nfsCfg.Wsize
		}
		if nfsCfg.Timeo > 0 {
			opts.Timeo = nfsCfg.Timeo
		}
		if nfsCfg.Retrans > 0 {
			opts.Retrans = nfsCfg.Retrans
		}
		if nfsCfg.Sec != "" {
			opts.Sec = nfsCfg.Sec
		}
		opts.Soft = nfsCfg.Soft
		opts.NoAC = nfsCfg.NoAC
		opts.Actimeo = nfsCfg.Actimeo
		opts.PNFS = nfsCfg.PNFS
		opts.NConnect = nfsCfg.NConnect
		opts.NoShareCache = nfsCfg.NoShareCache
		opts.NoRdirplus = nfsCfg.NoRdirplus
		target.NFS = opts

	case mount.ProtocolSMB:
		smbCfg := tc.SMB
		if smbCfg == nil {
			return nil, fmt.Errorf("SMB target %s/%s has no smb options", tc.Server, tc.Export)
		}
		opts := mount.NewSMBOptions()
		opts.Username = smbCfg.Username
		opts.Password = smbCfg.Password
		opts.Domain = smbCfg.Domain
		if smbCfg.Dialect != "" {
			opts.Dialect = smbCfg.Dialect
		}
		opts.Seal = smbCfg.Seal
		opts.RequireSigning = smbCfg.RequireSigning
		target.SMB = opts
	}

	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}
