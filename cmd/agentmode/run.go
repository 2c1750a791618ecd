package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/service"
)

func newRunCommand() *cobra.Command {
	var (
		f      planFlags
		taskID string
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Plan a request (or resume --task) and execute every chunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (taskID == "") == (len(args) == 0) {
				return errors.New("give either a request or --task")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := wire(cmd.Context(), cfg, wireOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			prompter := newTerminalPrompter(yes)
			a.engine.SetApprover(prompter)
			a.runner.SetAssistant(prompter)

			ctx := cmd.Context()
			var resp *service.TaskPlanResponse
			if taskID != "" {
				resp, err = a.planner.ResumeTask(ctx, taskID)
			} else {
				resp, err = a.planner.PlanTask(ctx, f.request(a, args))
			}
			if err != nil {
				return err
			}
			for _, w := range resp.Warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			rootID := resp.Metadata.RootTaskID

			for resp != nil {
				if !resp.Task.Status.IsTerminal() {
					report, err := a.engine.Run(ctx, resp.Task)
					var exhausted *service.TaskExhaustionError
					if err != nil && !errors.As(err, &exhausted) {
						return err
					}
					printReport(os.Stdout, report)
					if exhausted != nil {
						return fmt.Errorf("task %s stopped: %w", rootID, err)
					}
				}
				if resp, err = a.planner.GetNextTaskChunk(ctx, rootID); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stdout, "task %s done\n", rootID)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&taskID, "task", "", "resume a persisted task by its root id")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every step without asking")
	return cmd
}

func printReport(w io.Writer, r *service.Report) {
	fmt.Fprintf(w, "%s [%s] %d/%d steps completed in %s\n",
		r.Task.Title, r.Task.Status, r.Completed, len(r.Task.Steps), r.Duration.Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTATUS\tACTION\tTITLE")
	for _, s := range r.Task.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Order, s.Status, s.Action.Type, s.Title)
		if s.Status == task.StepSkipped {
			fmt.Fprintf(tw, "\t\t\t  skipped: %s\n", s.SkipReason)
		}
	}
	_ = tw.Flush()
	for _, h := range r.HelpRequests {
		fmt.Fprintf(w, "help (%s) for step %s: %s\n", h.Signature.Kind, h.StepID, h.Directive)
	}
}
