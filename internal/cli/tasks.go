package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/tasks"
)

// newTasksCmd creates the 'tasks' command.
func newTasksCmd() *cobra.Command {
	var check string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks that can appear in a task list",
		Long: `List registered tasks with their stage.

With --check, a task list file is parsed and every name in it is looked
up, without running anything.

Example:
  snsxt tasks --check task_lists/default.yml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := tasks.DefaultRegistry()
			out := cmd.OutOrStdout()

			if check != "" {
				tl, err := config.LoadTaskList(check)
				if err != nil {
					return err
				}
				if err := reg.CheckAll(tl.Sns, tasks.StageSns); err != nil {
					return err
				}
				if err := reg.CheckAll(tl.Tasks, tasks.StageAnalysis); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d sns tasks, %d analysis tasks, setup_report=%t\n",
					check, len(tl.Sns), len(tl.Tasks), tl.SetupReport)
				return nil
			}

			fmt.Fprintf(out, "%-28s %-10s %s\n", "TASK", "STAGE", "DESCRIPTION")
			for _, name := range reg.Names() {
				r, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-28s %-10s %s\n", r.Name, r.Stage, r.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&check, "check", "", "Task list file to check")
	return cmd
}
