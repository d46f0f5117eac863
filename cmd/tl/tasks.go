package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/domain"
	tasklinesdk "taskline/sdk/go"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks on a running server",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskNextCmd())
	task.AddCommand(taskPopCmd())
	task.AddCommand(taskTopCmd())
	task.AddCommand(taskSearchCmd())
	task.AddCommand(taskFilterCmd())
	task.AddCommand(taskGroupedCmd())
	task.AddCommand(taskOverdueCmd())
	task.AddCommand(taskStatsCmd())
	task.AddCommand(taskLookupCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var in tasklinesdk.CreateTaskInput
	var due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePriority(in.Priority)
			if err != nil {
				return err
			}
			in.Priority = p.String()
			if in.Status != "" {
				s, err := domain.ParseStatus(in.Status)
				if err != nil {
					return err
				}
				in.Status = string(s)
			}
			if due != "" {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				in.DueDate = &d
			}
			t, err := client().CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVarP(&in.Priority, "priority", "p", "", "LOW, MEDIUM, HIGH or CRITICAL")
	cmd.Flags().StringVar(&in.Status, "status", "", "initial status (default TODO)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&in.AssignedTo, "assigned-to", "", "assignee")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

func taskListCmd() *cobra.Command {
	var byPriority bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			var tasks []tasklinesdk.Task
			var err error
			if byPriority {
				tasks, err = c.TasksByPriority(cmd.Context())
			} else {
				tasks, err = c.ListTasks(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
	cmd.Flags().BoolVar(&byPriority, "by-priority", false, "most urgent first")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := client().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, priority, status, due, assignedTo string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in tasklinesdk.UpdateTaskInput
			flags := cmd.Flags()
			if flags.Changed("title") {
				in.Title = &title
			}
			if flags.Changed("description") {
				in.Description = &description
			}
			if flags.Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				name := p.String()
				in.Priority = &name
			}
			if flags.Changed("status") {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				name := string(s)
				in.Status = &name
			}
			if flags.Changed("due") {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				in.DueDate = &d
			}
			in.ClearDueDate = clearDue
			if flags.Changed("assigned-to") {
				in.AssignedTo = &assignedTo
			}
			t, err := client().UpdateTask(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "LOW, MEDIUM, HIGH or CRITICAL")
	cmd.Flags().StringVar(&status, "status", "", "TODO, IN_PROGRESS, COMPLETED or CANCELLED")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func taskNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the most urgent task",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := client().NextTask(cmd.Context())
			if err != nil {
				return err
			}
			return printOptionalTask(t)
		},
	}
}

func taskPopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pop",
		Short: "Remove and show the most urgent task",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := client().PopNext(cmd.Context())
			if err != nil {
				return err
			}
			return printOptionalTask(t)
		},
	}
}

func taskTopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top [k]",
		Short: "Show the k most urgent tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := 5
			if cfg, err := loadConfig(); err == nil {
				k = cfg.Tasks.DefaultTopK
			}
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return fmt.Errorf("k must be a non-negative integer, got %q", args[0])
				}
				k = n
			}
			tasks, err := client().TopK(cmd.Context(), k)
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
}

func taskSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search titles and descriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := client().Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
}

func taskFilterCmd() *cobra.Command {
	var f tasklinesdk.FilterInput
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Filter tasks by status, priority and assignee",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Status != "" {
				s, err := domain.ParseStatus(f.Status)
				if err != nil {
					return err
				}
				f.Status = string(s)
			}
			if f.Priority != "" {
				p, err := domain.ParsePriority(f.Priority)
				if err != nil {
					return err
				}
				f.Priority = p.String()
			}
			tasks, err := client().Filter(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVarP(&f.Priority, "priority", "p", "", "priority filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only tasks without an assignee")
	cmd.MarkFlagsMutuallyExclusive("assigned-to", "unassigned")
	return cmd
}

func taskGroupedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grouped",
		Short: "Show tasks grouped by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := client().Grouped(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(groups)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Status", "ID", "Title", "Priority"})
			for _, s := range domain.Statuses {
				for _, t := range groups[string(s)] {
					tw.AppendRow(table.Row{s, t.ID, t.Title, t.Priority})
				}
			}
			tw.Render()
			return nil
		},
	}
}

func taskOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "Show open tasks past their due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := client().Overdue(cmd.Context())
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
}

func taskStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := client().Statistics(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(stats)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Metric", "Value"})
			tw.AppendRow(table.Row{"total", stats.TotalTasks})
			tw.AppendRow(table.Row{"completion rate", stats.CompletionRate})
			tw.AppendSeparator()
			for _, s := range domain.Statuses {
				tw.AppendRow(table.Row{"status " + string(s), stats.StatusCounts[string(s)]})
			}
			tw.AppendSeparator()
			for _, p := range domain.Priorities {
				tw.AppendRow(table.Row{"priority " + p.String(), stats.PriorityCounts[p.String()]})
			}
			tw.Render()
			return nil
		},
	}
}

func taskLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <id>...",
		Short: "Show several tasks by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := client().Lookup(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
}

// parseDue accepts a calendar date (midnight UTC) or an RFC3339 timestamp.
func parseDue(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	d, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return d.UTC(), nil
}

func printTask(t tasklinesdk.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Title", t.Title},
		{"Description", t.Description},
		{"Priority", t.Priority},
		{"Status", t.Status},
		{"Created", t.CreatedAt.Format(time.RFC3339)},
		{"Due", formatDue(t.DueDate)},
		{"Assigned to", t.AssignedTo},
	})
	tw.Render()
	return nil
}

func printOptionalTask(t *tasklinesdk.Task) error {
	if t == nil {
		if viper.GetBool("json") {
			return printJSON(nil)
		}
		fmt.Println("no tasks")
		return nil
	}
	return printTask(*t)
}

func printTasks(tasks []tasklinesdk.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Due", "Assigned to"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, t.Status, formatDue(t.DueDate), t.AssignedTo})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "total", len(tasks)})
	tw.Render()
	return nil
}

func formatDue(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format("2006-01-02")
}
