// Package agent defines the contract for the external implementer and
// reviewer agents, and a CLI-backed invoker that runs them as one-shot
// subprocesses. The agents themselves are opaque collaborators: the
// orchestration core only sees a prompt in and a Result out.
package agent

import (
	"context"
	"time"
)

// Role selects which agent a request targets.
type Role string

const (
	RoleGenerator   Role = "generator"
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
)

// Request describes one agent invocation.
type Request struct {
	Role       Role
	Prompt     string
	WorkingDir string
	Timeout    time.Duration
}

// Result is the outcome of one agent invocation. Failures surface through
// the Success and Error fields; an Invoker must never panic or leak raw
// errors past this boundary.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Invoker runs one agent call with a timeout.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Result
}
