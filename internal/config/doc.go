// Package config loads, normalizes, and validates the tomarr TOML
// configuration. All path fields in a loaded Config are absolute.
package config
