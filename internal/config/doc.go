// Package config provides configuration loading and validation for the
// keyword detector service. Settings come from a YAML file layered over
// Default(), optional .env files and KWD_* environment overrides.
package config
