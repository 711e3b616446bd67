// Package config loads the daemon configuration from YAML or JSON files,
// resolves relative paths against the file's directory and validates the
// storage and event settings.
package config
