// Package client is the Go client for the daemon's HTTP API, used by
// the CLI subcommands and suitable for external automation.
package client
