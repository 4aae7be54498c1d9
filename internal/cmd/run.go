package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saribmah/orchestrator/internal/engine"
	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/session"
)

var (
	runDir           string
	runMaxIterations int
	runInteractive   bool
	runResume        string
)

var runCmd = &cobra.Command{
	Use:   "run [feature request]",
	Short: "Run one orchestration session in the foreground",
	Example: `  orc run "add pagination to the users endpoint"
  orc run --interactive "migrate the config loader to viper"
  orc run --resume sess_1724832000000_a1b2c3d4`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDir, "dir", "", "working directory for the agents (default current)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "iteration limit (default 5)")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "pause for confirmation at checkpoints")
	runCmd.Flags().StringVar(&runResume, "resume", "", "resume an interrupted session by id (empty id resumes the latest)")
}

func runRun(cmd *cobra.Command, args []string) error {
	feature := strings.TrimSpace(strings.Join(args, " "))
	if feature == "" && !cmd.Flags().Changed("resume") {
		return errors.New("a feature request is required unless --resume is given")
	}

	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	req := engine.Request{
		Feature: feature,
		Options: engine.Options{
			Interactive:   runInteractive,
			MaxIterations: runMaxIterations,
			WorkingDir:    runDir,
		},
		Callbacks: engine.Callbacks{OnEvent: printEvent},
	}
	if runInteractive {
		req.Callbacks.AskQuestion = askOnTerminal
	}

	if cmd.Flags().Changed("resume") {
		prior, err := c.store.Load(runResume)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		req.Resume = prior
		fmt.Printf("Resuming session %s (%s)\n", prior.ID, prior.Feature)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := c.engine.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("\nSession %s finished: %s after %d iteration(s)\n", st.ID, st.Status, st.Iteration)
	if st.Status != session.StatusApproved {
		return errors.New("session did not reach approval")
	}
	return nil
}

func printEvent(e event.ServerEvent) {
	switch e.Type {
	case event.TypeStatus:
		fmt.Printf("==> %v\n", e.Data["status"])
	case event.TypeIteration:
		fmt.Printf("--- iteration %v of %v ---\n", e.Data["iteration"], e.Data["maxIterations"])
	case event.TypeAgentStart:
		fmt.Printf("  %v running...\n", e.Data["role"])
	case event.TypeLog:
		if fb, ok := e.Data["feedback"].(string); ok && fb != "" {
			fmt.Printf("  review feedback:\n%s\n", indent(fb))
		} else {
			fmt.Printf("  %v\n", e.Data["message"])
		}
	case event.TypeError:
		fmt.Printf("error: %v\n", e.Data["message"])
	}
}

func askOnTerminal(ctx context.Context, text string) (bool, error) {
	fmt.Printf("\n%s [y/N]: ", text)

	answerCh := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answerCh <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answerCh:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
