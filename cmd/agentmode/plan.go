package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Strob0t/agentmode/internal/service"
)

type planFlags struct {
	enhanced         bool
	maxSteps         int
	allowDestructive bool
	approveAll       bool
	currentFile      string
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "upper bound on planned steps (default from config)")
	cmd.Flags().BoolVar(&f.allowDestructive, "allow-destructive", false, "do not warn about delete and commit steps")
	cmd.Flags().BoolVar(&f.approveAll, "require-approval", false, "require approval before every step")
	cmd.Flags().StringVar(&f.currentFile, "current-file", "", "file the request refers to")
}

func (f *planFlags) request(a *app, args []string) service.PlanRequest {
	return service.PlanRequest{
		Request: strings.Join(args, " "),
		Workspace: service.WorkspaceContext{
			Root:        a.root,
			CurrentFile: f.currentFile,
		},
		Options: service.PlanOptions{
			MaxSteps:                f.maxSteps,
			AllowDestructiveActions: f.allowDestructive,
			RequireApprovalForAll:   f.approveAll,
		},
	}
}

func newPlanCommand() *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Plan a request and print the first chunk as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := wire(cmd.Context(), cfg, wireOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			req := f.request(a, args)
			var resp any
			if f.enhanced {
				resp, err = a.planner.PlanTaskEnhanced(cmd.Context(), req)
			} else {
				resp, err = a.planner.PlanTask(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.enhanced, "enhanced", false, "include planning insights")
	return cmd
}
