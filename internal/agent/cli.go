package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command describes how to launch one agent CLI. The prompt is delivered on
// stdin so arbitrary prompt content never needs shell quoting.
type Command struct {
	Name string
	Args []string
}

// CLIInvoker runs agents as one-shot subprocesses, one command per role.
type CLIInvoker struct {
	commands map[Role]Command
}

// NewCLIInvoker creates an invoker from per-role commands.
func NewCLIInvoker(commands map[Role]Command) *CLIInvoker {
	return &CLIInvoker{commands: commands}
}

// Invoke runs the role's command with the request prompt on stdin, bounded by
// the request timeout. A timed-out process is killed; whatever output it
// produced is still captured and surfaced alongside the failure reason.
func (c *CLIInvoker) Invoke(ctx context.Context, req Request) Result {
	command, ok := c.commands[req.Role]
	if !ok || command.Name == "" {
		return Result{Error: fmt.Sprintf("no command configured for role %s", req.Role)}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = req.WorkingDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	// Bound the wait after a kill so grandchildren holding the output pipe
	// cannot stall the pipeline past the timeout.
	cmd.WaitDelay = 10 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())

	if err != nil {
		reason := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", req.Timeout)
		}
		return Result{Output: output, Error: reason}
	}
	return Result{Success: true, Output: output}
}
