package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/saribmah/orchestrator/internal/agent"
	"github.com/saribmah/orchestrator/internal/engine"
	"github.com/saribmah/orchestrator/internal/event"
	"github.com/saribmah/orchestrator/internal/logging"
	"github.com/saribmah/orchestrator/internal/queue"
	"github.com/saribmah/orchestrator/internal/session"
)

// core is the component graph shared by serve and run.
type core struct {
	logger *logging.Logger
	store  *session.FileStore
	bus    *event.Bus
	engine *engine.Engine
}

func buildCore() (*core, error) {
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	store, err := session.NewFileStore(cfg.Paths.SessionsDir())
	if err != nil {
		logger.Close()
		return nil, err
	}

	invoker := agent.NewCLIInvoker(map[agent.Role]agent.Command{
		agent.RoleGenerator:   {Name: cfg.Agents.Generator.Command, Args: cfg.Agents.Generator.Args},
		agent.RoleImplementer: {Name: cfg.Agents.Implementer.Command, Args: cfg.Agents.Implementer.Args},
		agent.RoleReviewer:    {Name: cfg.Agents.Reviewer.Command, Args: cfg.Agents.Reviewer.Args},
	})

	bus := event.NewBus()
	eng := engine.New(invoker, store, bus, logger, engine.Config{
		GeneratorTimeout:   cfg.Agents.Generator.Timeout,
		ImplementerTimeout: cfg.Agents.Implementer.Timeout,
		ReviewerTimeout:    cfg.Agents.Reviewer.Timeout,
		AgentName:          cfg.Agents.Name,
	})

	return &core{logger: logger, store: store, bus: bus, engine: eng}, nil
}

func (c *core) close() {
	c.logger.Close()
}

// queueRunner adapts the engine to the queue: each item becomes a fresh
// non-interactive session.
func queueRunner(eng *engine.Engine) queue.Runner {
	return func(ctx context.Context, item queue.Item) (string, error) {
		opts := item.Options
		opts.Interactive = false
		if opts.WorkingDir == "" {
			opts.WorkingDir = item.WorkingDir
		}

		id := session.NewID()
		st, err := eng.Run(ctx, engine.Request{
			Feature:   item.Feature,
			SessionID: id,
			Options:   opts,
		})
		if err != nil {
			return id, err
		}
		if st.Status != session.StatusApproved {
			return st.ID, errors.New("session did not reach approval")
		}
		return st.ID, nil
	}
}

// serverBaseURL turns the configured listen address into a client base URL.
func serverBaseURL() string {
	addr := cfg.Server.Addr
	if len(addr) > 0 && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return fmt.Sprintf("http://%s", addr)
}
