// Package config provides configuration loading and validation for the
// re-blocking audio service. Configuration is read from a YAML file after
// loading an optional .env file; a few environment variables override the
// file.
package config
