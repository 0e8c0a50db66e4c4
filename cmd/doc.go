// Package cmd implements the command-line interface of kvx. It provides a hierarchical
// command structure to run extension commands against a host, interactively or as a batch.
//
// The package is organized into several subpackages:
//
//   - exec: Run commands given as arguments or read from stdin
//   - shell: Interactive shell (SELECT, HELLO, AUTH and dot commands)
//   - modules: List the modules and commands of a manifest
//   - perf: Benchmark the invocation path with the builtin hash commands
//   - util: Shared utilities for flags, configuration and host wiring (internal use)
//
// All host flags can also be set as environment variables with the prefix KVX_
// (e.g. KVX_LOG_LEVEL=debug), which may be placed in a .env or .env.local file.
//
// See kvx -help for a list of all commands.
package cmd
