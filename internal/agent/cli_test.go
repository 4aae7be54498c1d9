package agent

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on sh")
	}
}

func TestCLIInvokerSuccess(t *testing.T) {
	skipOnWindows(t)

	inv := NewCLIInvoker(map[Role]Command{
		RoleReviewer: {Name: "sh", Args: []string{"-c", "cat"}},
	})

	res := inv.Invoke(context.Background(), Request{
		Role:    RoleReviewer,
		Prompt:  "review this change",
		Timeout: 10 * time.Second,
	})

	if !res.Success {
		t.Fatalf("Invoke failed: %s", res.Error)
	}
	if res.Output != "review this change" {
		t.Errorf("Output = %q, want prompt echoed from stdin", res.Output)
	}
}

func TestCLIInvokerCommandFailure(t *testing.T) {
	skipOnWindows(t)

	inv := NewCLIInvoker(map[Role]Command{
		RoleImplementer: {Name: "sh", Args: []string{"-c", "echo partial work; exit 3"}},
	})

	res := inv.Invoke(context.Background(), Request{Role: RoleImplementer, Timeout: 10 * time.Second})

	if res.Success {
		t.Fatal("Invoke succeeded, want failure")
	}
	if res.Error == "" {
		t.Error("Error is empty on failure")
	}
	if !strings.Contains(res.Output, "partial work") {
		t.Errorf("Output = %q, want partial output preserved", res.Output)
	}
}

func TestCLIInvokerTimeout(t *testing.T) {
	skipOnWindows(t)

	inv := NewCLIInvoker(map[Role]Command{
		RoleImplementer: {Name: "sh", Args: []string{"-c", "echo started; exec sleep 30"}},
	})

	res := inv.Invoke(context.Background(), Request{Role: RoleImplementer, Timeout: 200 * time.Millisecond})

	if res.Success {
		t.Fatal("Invoke succeeded, want timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("Error = %q, want timeout reason", res.Error)
	}
	if !strings.Contains(res.Output, "started") {
		t.Errorf("Output = %q, want partial output captured before the kill", res.Output)
	}
}

func TestCLIInvokerUnconfiguredRole(t *testing.T) {
	inv := NewCLIInvoker(nil)
	res := inv.Invoke(context.Background(), Request{Role: RoleGenerator})
	if res.Success {
		t.Fatal("Invoke succeeded for unconfigured role")
	}
	if !strings.Contains(res.Error, "no command configured") {
		t.Errorf("Error = %q, want unconfigured-role reason", res.Error)
	}
}
