// Package config loads and validates filesweep configuration.
//
// The loader resolves the config path (flag, ~/.config/filesweep/config.toml,
// or ./filesweep.toml), decodes TOML on top of Default(), normalizes paths and
// environment-variable fallbacks, and validates every section before any
// component is constructed. The [[entities]] blocks form the reference catalog
// the collector walks; each block names a table and the columns that record
// an expected object-store file.
//
// Keep defaults in defaults.go and per-section rules in normalize.go and
// validate.go so the error messages stay in the "section.key must ..." shape.
package config
