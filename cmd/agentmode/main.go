// Command agentmode plans and executes multi-step coding tasks against a
// workspace, either as a long-running server for an editor host or one-shot
// from the terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/agentmode/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentmode",
		Short:         "Plan and execute multi-step coding tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCommand(),
		newPlanCommand(),
		newRunCommand(),
		newMigrateCommand(),
	)
	return root
}

// loadConfig resolves defaults < YAML < ENV < flags for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, path, err := config.LoadWithCLI(config.FlagsFrom(cmd.Flags()))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	slog.Debug("config loaded", "path", path, "workspace", cfg.Workspace.Root, "memory", cfg.Memory.Backend)
	return cfg, nil
}
