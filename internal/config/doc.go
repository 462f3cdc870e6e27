// Package config loads wavebridge service settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// WAVEBRIDGE_* environment variables. The result is validated before use.
// Watch reloads the file when it changes.
package config
