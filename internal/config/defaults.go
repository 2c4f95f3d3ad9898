package config

const (
	defaultConfigPath        = "~/.config/shuttle/config.toml"
	defaultStoreDir          = "~/.local/share/shuttle/artifacts"
	defaultLogDir            = "~/.local/share/shuttle/logs"
	defaultLogRetentionDays  = 14
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultAPIBind           = "127.0.0.1:7490"
	defaultBaseURL           = "http://127.0.0.1:7490"
	defaultSubmitRate        = 5
	defaultSubmitBurst       = 10
	defaultFileLifetime      = 3600
	defaultCleanupInterval   = 300
	defaultFetchBinary       = "yt-dlp"
	defaultFetchTimeout      = 900
	defaultFetchRetries      = 1
	defaultMaxDuration       = 1800
	defaultMaxConcurrent     = 4
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultNotifyTimeout     = 10
	defaultQualityDirective  = "bestvideo[height<=720]+bestaudio/best[height<=720]/best[height<=480]/best[height<=360]"
	defaultJournalEnabled    = true
	defaultTranscodeVerify   = true
	defaultTranscodeEnabled  = false
	defaultNotifyOnJobReady  = true
	defaultNotifyOnJobFailed = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StoreDir: defaultStoreDir,
			LogDir:   defaultLogDir,
		},
		API: API{
			Bind:        defaultAPIBind,
			BaseURL:     defaultBaseURL,
			SubmitRate:  defaultSubmitRate,
			SubmitBurst: defaultSubmitBurst,
		},
		Retention: Retention{
			FileLifetime:    defaultFileLifetime,
			CleanupInterval: defaultCleanupInterval,
		},
		Fetch: Fetch{
			Binary:        defaultFetchBinary,
			Quality:       defaultQualityDirective,
			Timeout:       defaultFetchTimeout,
			Retries:       defaultFetchRetries,
			MaxDuration:   defaultMaxDuration,
			MaxConcurrent: defaultMaxConcurrent,
		},
		Transcode: Transcode{
			Enabled:       defaultTranscodeEnabled,
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			Verify:        defaultTranscodeVerify,
		},
		Journal: Journal{
			Enabled: defaultJournalEnabled,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobReady:       defaultNotifyOnJobReady,
			JobFailed:      defaultNotifyOnJobFailed,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
