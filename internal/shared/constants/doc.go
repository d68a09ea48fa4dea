// Package constants centralizes configuration defaults shared across the CLI.
//
// File permissions, worker width, and timeouts live here so that cmd/ and
// internal/ agree on them without introducing import cycles.
package constants
