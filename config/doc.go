// Package config handles application configuration loading and validation.
//
// Configuration is layered: built-in defaults, an optional config.yml, and
// environment variables on top. Struct tags drive validation.
package config
