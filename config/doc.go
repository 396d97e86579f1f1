// Package config loads verimesh configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables prefixed with VERIMESH_. The first underscore after
// the prefix separates the section from the field, so
// VERIMESH_ROUNDS_MAX_ROUNDS sets rounds.max_rounds and
// VERIMESH_GATEWAY_RATE_PER_SECOND sets gateway.rate_per_second.
package config
