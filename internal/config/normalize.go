package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeState(); err != nil {
		return err
	}
	c.normalizeObjectStore()
	c.normalizeRetry()
	c.normalizeDatabase()
	c.normalizeEnvironments()
	c.normalizeRun()
	c.normalizeCache()
	c.normalizeQuarantine()
	c.normalizeCollector()
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	c.normalizeEntities()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeState() error {
	if strings.TrimSpace(c.State.Dir) == "" {
		c.State.Dir = defaultStateDir
	}
	var err error
	if c.State.Dir, err = expandPath(c.State.Dir); err != nil {
		return fmt.Errorf("state.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeObjectStore() {
	c.ObjectStore.Bucket = strings.TrimSpace(c.ObjectStore.Bucket)
	c.ObjectStore.Region = strings.TrimSpace(c.ObjectStore.Region)
	if c.ObjectStore.Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok && strings.TrimSpace(value) != "" {
			c.ObjectStore.Region = strings.TrimSpace(value)
		} else {
			c.ObjectStore.Region = defaultRegion
		}
	}
	c.ObjectStore.Endpoint = strings.TrimSpace(c.ObjectStore.Endpoint)
	if c.ObjectStore.Endpoint == "" {
		if value, ok := os.LookupEnv("FILESWEEP_S3_ENDPOINT"); ok {
			c.ObjectStore.Endpoint = strings.TrimSpace(value)
		}
	}
	c.ObjectStore.AccessKeyID = strings.TrimSpace(c.ObjectStore.AccessKeyID)
	c.ObjectStore.SecretAccessKey = strings.TrimSpace(c.ObjectStore.SecretAccessKey)
	if c.ObjectStore.PageSize <= 0 || c.ObjectStore.PageSize > 1000 {
		c.ObjectStore.PageSize = defaultObjectStorePageSize
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = defaultRetryBaseDelayMS
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = defaultRetryMaxDelayMS
	}
}

func (c *Config) normalizeDatabase() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "", "postgresql", "pgx":
		c.Database.Driver = defaultDatabaseDriver
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("FILESWEEP_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
	if c.Database.PageSize <= 0 {
		c.Database.PageSize = defaultDatabasePageSize
	}
}

func (c *Config) normalizeEnvironments() {
	if c.Environments == nil {
		c.Environments = map[string]Environment{}
		return
	}
	normalized := make(map[string]Environment, len(c.Environments))
	for name, env := range c.Environments {
		normalized[strings.ToLower(strings.TrimSpace(name))] = env
	}
	c.Environments = normalized
}

func (c *Config) normalizeRun() {
	if c.Run.BatchSize <= 0 {
		c.Run.BatchSize = defaultBatchSize
	}
	if c.Run.Workers <= 0 {
		c.Run.Workers = defaultWorkers
	}
	if c.Run.CheckThresholdHours < 0 {
		c.Run.CheckThresholdHours = 0
	}
	if c.Run.SampleSize <= 0 {
		c.Run.SampleSize = defaultSampleSize
	}
}

func (c *Config) normalizeCache() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaultCacheBackend
	}
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
	if c.Cache.RedisAddr == "" {
		if value, ok := os.LookupEnv("FILESWEEP_REDIS_ADDR"); ok {
			c.Cache.RedisAddr = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeQuarantine() {
	if c.Quarantine.TTLDays <= 0 {
		c.Quarantine.TTLDays = defaultQuarantineTTLDays
	}
	if c.Quarantine.LockTTLMinutes <= 0 {
		c.Quarantine.LockTTLMinutes = defaultLockTTLMinutes
	}
}

func (c *Config) normalizeCollector() {
	c.Collector.LegacyPlaceholders = dedupeTrimmed(c.Collector.LegacyPlaceholders, false)
	c.Collector.LegacyHosts = dedupeTrimmed(c.Collector.LegacyHosts, true)
}

func (c *Config) normalizeMetrics() error {
	c.Metrics.TextfilePath = strings.TrimSpace(c.Metrics.TextfilePath)
	if c.Metrics.TextfilePath == "" {
		return nil
	}
	var err error
	if c.Metrics.TextfilePath, err = expandPath(c.Metrics.TextfilePath); err != nil {
		return fmt.Errorf("metrics.textfile_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeEntities() {
	for i := range c.Entities {
		entity := &c.Entities[i]
		entity.Type = strings.TrimSpace(entity.Type)
		entity.Table = strings.TrimSpace(entity.Table)
		entity.IDColumn = strings.TrimSpace(entity.IDColumn)
		if entity.IDColumn == "" {
			entity.IDColumn = "id"
		}
		entity.Visibility = strings.ToLower(strings.TrimSpace(entity.Visibility))
		if entity.Visibility == "" {
			entity.Visibility = "private"
		}
		entity.AssetClass = strings.TrimSpace(entity.AssetClass)
		for j := range entity.Fields {
			field := &entity.Fields[j]
			field.Name = strings.TrimSpace(field.Name)
			field.Kind = strings.ToLower(strings.TrimSpace(field.Kind))
			field.Visibility = strings.ToLower(strings.TrimSpace(field.Visibility))
			field.AssetClass = strings.TrimSpace(field.AssetClass)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func dedupeTrimmed(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
