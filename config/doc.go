// Package config loads server settings from the environment, an optional
// .env file and an optional YAML overlay.
//
// Precedence, lowest first: struct defaults, .env values for variables not
// already set, the process environment, then YAML keys. CLI flags are applied
// by the caller after Load.
package config
