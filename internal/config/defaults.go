package config

const (
	defaultStateDir              = "~/.local/share/filesweep"
	defaultRegion                = "us-east-1"
	defaultObjectStorePageSize   = 1000
	defaultRetryMaxAttempts      = 5
	defaultRetryBaseDelayMS      = 200
	defaultRetryMaxDelayMS       = 10000
	defaultRetryJitter           = 0.5
	defaultDatabaseDriver        = "postgres"
	defaultDatabasePageSize      = 500
	defaultBatchSize             = 100
	defaultWorkers               = 8
	defaultCheckThresholdHours   = 24
	defaultSampleSize            = 10
	defaultCacheBackend          = "sqlite"
	defaultQuarantineTTLDays     = 30
	defaultLockTTLMinutes        = 120
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLegacyPlaceholderWord = "__stored__"
)

// KnownEnvironments lists the deployment environments a run may target.
var KnownEnvironments = []string{"development", "staging", "production"}

// IsKnownEnvironment reports whether name is one of KnownEnvironments.
func IsKnownEnvironment(name string) bool {
	for _, known := range KnownEnvironments {
		if name == known {
			return true
		}
	}
	return false
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		State: State{
			Dir: defaultStateDir,
		},
		ObjectStore: ObjectStore{
			Region:   defaultRegion,
			PageSize: defaultObjectStorePageSize,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelayMS: defaultRetryBaseDelayMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
			Jitter:      defaultRetryJitter,
		},
		Database: Database{
			Driver:   defaultDatabaseDriver,
			PageSize: defaultDatabasePageSize,
		},
		Environments: map[string]Environment{},
		Run: Run{
			BatchSize:           defaultBatchSize,
			Workers:             defaultWorkers,
			CheckThresholdHours: defaultCheckThresholdHours,
			SampleSize:          defaultSampleSize,
		},
		Cache: Cache{
			Backend: defaultCacheBackend,
		},
		Quarantine: Quarantine{
			TTLDays:        defaultQuarantineTTLDays,
			LockTTLMinutes: defaultLockTTLMinutes,
		},
		Collector: Collector{
			LegacyPlaceholders: []string{defaultLegacyPlaceholderWord, "placeholder"},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
