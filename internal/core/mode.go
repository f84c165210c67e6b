// Package core is the orchestration layer.  The Orchestrator drives a
// single scan session against the command server; ScanMode runs every
// session a configuration asks for; Build wires both from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  protocol  →  session  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of pathscan.  It owns its full
// lifecycle, from contacting the command server to tearing down.
type Mode interface {
	Run(ctx context.Context) error
}
