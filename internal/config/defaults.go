package config

const (
	defaultOutputDir        = "data"
	defaultSyslogHost       = "0.0.0.0"
	defaultSyslogPort       = 55555
	defaultDrainWaitSeconds = 5
)

// GetDefaultConfig returns the configuration the harness runs with when no
// field overrides it.
func GetDefaultConfig() Config {
	return Config{
		Output: OutputConfig{
			Dir: defaultOutputDir,
		},
		Syslog: SyslogConfig{
			Host:             defaultSyslogHost,
			Port:             defaultSyslogPort,
			DrainWaitSeconds: defaultDrainWaitSeconds,
		},
	}
}

// applyDefaults fills in zero-valued fields after unmarshalling.
func applyDefaults(cfg *Config) {
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = defaultOutputDir
	}
	if cfg.Syslog.Host == "" {
		cfg.Syslog.Host = defaultSyslogHost
	}
	if cfg.Syslog.Port == 0 {
		cfg.Syslog.Port = defaultSyslogPort
	}
	if cfg.Syslog.DrainWaitSeconds == 0 {
		cfg.Syslog.DrainWaitSeconds = defaultDrainWaitSeconds
	}
	for i := range cfg.Targets {
		if cfg.Targets[i].Protocol == "" {
			cfg.Targets[i].Protocol = "nfs"
		}
	}
	for i := range cfg.Appliances {
		if cfg.Appliances[i].Syslog.Port == 0 {
			cfg.Appliances[i].Syslog.Port = cfg.Syslog.Port
		}
		if cfg.Appliances[i].Syslog.Protocol == "" {
			cfg.Appliances[i].Syslog.Protocol = "udp"
		}
	}
}
