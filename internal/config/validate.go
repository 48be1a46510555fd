package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEnvironments(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateEntities(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEnvironments() error {
	for name, env := range c.Environments {
		if !IsKnownEnvironment(name) {
			return fmt.Errorf("environments.%s is not a known environment (expected one of %s)", name, strings.Join(KnownEnvironments, ", "))
		}
		if strings.Contains(env.Prefix, "..") {
			return fmt.Errorf("environments.%s.prefix must not contain '..'", name)
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
		return nil
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
}

func (c *Config) validateRetry() error {
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be between 0 and 1")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "sqlite", "none":
		return nil
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr must be set when cache.backend is redis (or set FILESWEEP_REDIS_ADDR)")
		}
		return nil
	default:
		return fmt.Errorf("cache.backend must be sqlite, redis or none, got %q", c.Cache.Backend)
	}
}

func (c *Config) validateEntities() error {
	seen := make(map[string]struct{}, len(c.Entities))
	for i, entity := range c.Entities {
		label := fmt.Sprintf("entities[%d]", i)
		if entity.Type == "" {
			return fmt.Errorf("%s.type must be set", label)
		}
		if _, dup := seen[entity.Type]; dup {
			return fmt.Errorf("%s.type %q is declared more than once", label, entity.Type)
		}
		seen[entity.Type] = struct{}{}
		if entity.Table == "" {
			return fmt.Errorf("%s.table must be set", label)
		}
		if err := validateVisibility(label+".visibility", entity.Visibility); err != nil {
			return err
		}
		if len(entity.Fields) == 0 {
			return fmt.Errorf("%s.fields must include at least one field", label)
		}
		for j, field := range entity.Fields {
			if err := validateField(fmt.Sprintf("%s.fields[%d]", label, j), field); err != nil {
				return err
			}
		}
		if entity.Polymorphic != nil {
			if entity.Polymorphic.TypeColumn == "" || entity.Polymorphic.OwnerIDColumn == "" {
				return fmt.Errorf("%s.polymorphic requires type_column and owner_id_column", label)
			}
			if len(entity.Polymorphic.TypeMap) == 0 {
				return fmt.Errorf("%s.polymorphic.type_map must map at least one owner type", label)
			}
		}
	}
	for i, entity := range c.Entities {
		if entity.Polymorphic == nil {
			continue
		}
		for raw, target := range entity.Polymorphic.TypeMap {
			if _, ok := seen[target]; !ok {
				return fmt.Errorf("entities[%d].polymorphic.type_map[%q] references unknown entity type %q", i, raw, target)
			}
		}
	}
	return nil
}

func validateField(label string, field Field) error {
	if field.Name == "" {
		return fmt.Errorf("%s.name must be set", label)
	}
	if field.Visibility != "" {
		if err := validateVisibility(label+".visibility", field.Visibility); err != nil {
			return err
		}
	}
	switch field.Kind {
	case "structured":
		if field.FlagColumn == "" || field.FilenameColumn == "" {
			return fmt.Errorf("%s: structured fields require flag_column and filename_column", label)
		}
	case "legacy_url":
		if field.URLColumn == "" {
			return fmt.Errorf("%s: legacy_url fields require url_column", label)
		}
	case "json_path":
		if field.JSONColumn == "" {
			return fmt.Errorf("%s: json_path fields require json_column", label)
		}
	default:
		return fmt.Errorf("%s.kind must be structured, legacy_url or json_path, got %q", label, field.Kind)
	}
	return nil
}

func validateVisibility(label, value string) error {
	switch value {
	case "public", "private":
		return nil
	default:
		return fmt.Errorf("%s must be public or private, got %q", label, value)
	}
}
