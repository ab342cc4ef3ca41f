package config

const (
	defaultDataDir             = "~/.local/share/tomarr"
	defaultStagingDir          = "~/.local/share/tomarr/staging"
	defaultLogDir              = "~/.local/share/tomarr/logs"
	defaultAPIBind             = "127.0.0.1:7793"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultRatePerMinute       = 12
	defaultMetasiteRate        = 6
	defaultEmuleHost           = "127.0.0.1"
	defaultEmulePort           = 4712
	defaultLocalFirstThreshold = 20
	defaultCacheTTLMinutes     = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Ebdz: Ebdz{
			Enabled:       true,
			RatePerMinute: 60,
		},
		Prowlarr: Prowlarr{
			RatePerMinute: defaultRatePerMinute,
		},
		Metasite: Metasite{
			RatePerMinute: defaultMetasiteRate,
		},
		Emule: Emule{
			Host: defaultEmuleHost,
			Port: defaultEmulePort,
		},
		Monitor: Monitor{
			Sources:             []string{"ebdz", "prowlarr"},
			LocalFirstThreshold: defaultLocalFirstThreshold,
			CacheTTLMinutes:     defaultCacheTTLMinutes,
		},
		Schedule: Schedule{
			Scan:            Job{Enabled: true, Every: 6, Unit: "hours"},
			CheckMissing:    Job{Enabled: false, Every: 12, Unit: "hours"},
			CheckNewVolumes: Job{Enabled: false, Every: 1, Unit: "days"},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
