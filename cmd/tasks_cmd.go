package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/graphiti-browser/internal/api"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Manage scheduled agent tasks",
	}
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksRunningCmd())
	cmd.AddCommand(tasksRunCmd())
	cmd.AddCommand(tasksHistoryCmd())
	cmd.AddCommand(tasksCreateCmd())
	cmd.AddCommand(tasksToggleCmd("enable", true))
	cmd.AddCommand(tasksToggleCmd("disable", false))
	cmd.AddCommand(tasksDeleteCmd())
	return cmd
}

func tasksListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(tasks)
			}
			printTasks(tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printTasks(tasks []api.Task) {
	if len(tasks) == 0 {
		fmt.Println("No scheduled tasks.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tSCHEDULE\tENABLED\tLAST RUN\tNEXT RUN\n")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(t.ID), truncate(t.Name, 30), t.Schedule, yesNo(t.Enabled),
			formatTime(t.LastRunAt), formatTime(t.NextRunAt))
	}
	tw.Flush()
}

func printExecutions(execs []api.Execution) {
	if len(execs) == 0 {
		fmt.Println("No executions.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTASK\tSTATUS\tSTARTED\tDURATION\tOUTPUT\n")
	for _, e := range execs {
		started := e.StartedAt
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		out := e.Output
		if e.Error != "" {
			out = "error: " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(e.ID), shortID(e.TaskID), e.Status, formatTime(&started), dur, truncate(out, 50))
	}
	tw.Flush()
}

func tasksRunningCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "running",
		Short: "List executions that are currently running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			execs, err := a.RunningExecutions(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(execs)
			}
			printExecutions(execs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func tasksRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <taskId>",
		Short: "Run a task now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.RunTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Started execution %s for task %s.\n", exec.ID, args[0])
			return nil
		},
	}
}

func tasksHistoryCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "history <taskId>",
		Short: "Show past executions of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			execs, err := a.TaskHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(execs)
			}
			printExecutions(execs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max executions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func tasksCreateCmd() *cobra.Command {
	var (
		name     string
		schedule string
		prompt   string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled task",
		Long: `Create a task the agent runs on a cron schedule.

Examples:
  graphiti-browser tasks create --name digest --cron "0 9 * * *" --prompt "Summarize yesterday"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fillTaskFlags(&name, &schedule, &prompt); err != nil {
				return err
			}
			if err := api.ValidateSchedule(schedule); err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			enabled := !disabled
			task, err := a.CreateTask(cmd.Context(), api.TaskInput{
				Name:     name,
				Prompt:   prompt,
				Schedule: schedule,
				Enabled:  &enabled,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created task %s (%s).\n", task.Name, task.ID)
			if next, err := api.NextRun(schedule, time.Now()); err == nil && enabled {
				fmt.Printf("Next run: %s\n", formatTime(&next))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&schedule, "cron", "", "cron expression, e.g. \"0 9 * * *\"")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt the agent runs")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the task disabled")
	return cmd
}

// fillTaskFlags prompts for required create flags that were not given.
func fillTaskFlags(name, schedule, prompt *string) error {
	if *name != "" && *schedule != "" && *prompt != "" {
		return nil
	}
	if !interactive() {
		return fail("--name, --cron and --prompt are required")
	}
	fields := []struct {
		dst         *string
		title, desc string
		def         string
	}{
		{name, "Task name", "", ""},
		{schedule, "Schedule", "Cron expression", "0 9 * * *"},
		{prompt, "Prompt", "What the agent should do on each run", ""},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		v, err := promptString(f.title, f.desc, f.def)
		if err != nil {
			return err
		}
		if v == "" {
			return fail("%s is required", strings.ToLower(f.title))
		}
		*f.dst = v
	}
	return nil
}

func tasksToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <taskId>",
		Short: fmt.Sprintf("%s a task", map[bool]string{true: "Enable", false: "Disable"}[enabled]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.UpdateTask(cmd.Context(), args[0], api.TaskInput{Enabled: &enabled}); err != nil {
				return err
			}
			fmt.Printf("Task %s %sd.\n", args[0], use)
			return nil
		},
	}
}

func tasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <taskId>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.DeleteTask(cmd.Context(), args[0]); err != nil {
				if api.IsNotFound(err) {
					return fail("task %s not found", args[0])
				}
				return err
			}
			fmt.Printf("Deleted task %s.\n", args[0])
			return nil
		},
	}
}
