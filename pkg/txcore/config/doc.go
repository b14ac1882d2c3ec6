// Package config loads process configuration from YAML or JSON into a
// lenient, typed-accessor wrapper around map[string]any. It backs the
// startup-time load of breaker and local event bus tuning in the demo
// binary, read once at startup; picking up a changed value requires
// restarting the process. Saga definitions are not loaded through it:
// saga.LoadDefinitions parses its own YAML file.
package config
