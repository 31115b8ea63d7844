package config

const (
	defaultStateDir              = "~/.local/share/spool"
	defaultDownloadDir           = "~/downloads/spool"
	defaultLogDir                = "~/.local/share/spool/logs"
	defaultArtworkCacheDir       = "~/.cache/spool/artwork"
	defaultTransferConcurrency   = 2
	defaultTransferTimeout       = 30
	defaultProgressBucketPercent = 5
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultMeteredMarkerPath     = "/run/spool/metered"
	defaultDaemonBind            = "127.0.0.1:7474"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:        defaultStateDir,
			DownloadDir:     defaultDownloadDir,
			LogDir:          defaultLogDir,
			ArtworkCacheDir: defaultArtworkCacheDir,
		},
		Transfer: Transfer{
			MaxConcurrent:         defaultTransferConcurrency,
			RequestTimeout:        defaultTransferTimeout,
			ProgressBucketPercent: defaultProgressBucketPercent,
		},
		Network: Network{
			BlockConstrained:  true,
			MeteredMarkerPath: defaultMeteredMarkerPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Daemon: Daemon{
			Bind: defaultDaemonBind,
		},
	}
}
