// Package logging configures structured slog output for nexus.
//
// Logs are JSON lines written to a size-rotated file under ~/.nexus/logs/,
// optionally mirrored to stderr. The MCP server disables the stderr mirror
// because stdio carries the protocol stream.
package logging
