// Package logging wraps log/slog for the lab agent.
//
// Structured logs go through the package-level helpers:
//
//	logging.Info("network created", "name", seg.Name, "subnet", seg.Subnet)
//	logging.Warn("image pull failed", "image", ref, "error", err)
//
// The labagent CLI prints short status lines with the User helpers, which
// prefix ℹ, ✓, ⚠ or ✗.
package logging
