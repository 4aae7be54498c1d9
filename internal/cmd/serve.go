package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saribmah/orchestrator/internal/queue"
	"github.com/saribmah/orchestrator/internal/registry"
	"github.com/saribmah/orchestrator/internal/server"
	"github.com/saribmah/orchestrator/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "127.0.0.1:7777", "listen address")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	qstore, err := queue.NewFileStore(cfg.Paths.QueueDir())
	if err != nil {
		return err
	}
	q, err := queue.New(ctx, qstore, queueRunner(c.engine), c.bus, c.logger)
	if err != nil {
		return err
	}
	// Resume draining anything left pending from a previous run.
	q.Kick()

	srv := server.New(cfg.Server.Addr, server.Deps{
		Engine:   c.engine,
		Store:    c.store,
		Bus:      c.bus,
		Queue:    q,
		Registry: registry.New(),
		Streamer: stream.New(c.bus, c.logger),
		Log:      c.logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	q.Wait()
	return <-errCh
}
