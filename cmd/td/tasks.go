package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/resolver"
	"taskdesk/internal/rules"
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move needs_clarification -> not_started -> in_progress -> pending_approval -> completed; on_hold and archived are side exits.",
	}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskStatusCmd())
	t.AddCommand(taskReplyCmd())
	t.AddCommand(taskLogCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			opts.ActorID = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printTask(res.Task)
				printMatch("assignee", opts.Assignee, res.AssigneeMatch)
				printMatch("project", opts.Project, res.ProjectMatch)
				printReports(res.WorkflowReports)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "staff email or name")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project tag or name")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, medium, high or urgent")
	cmd.Flags().StringVar(&opts.Source, "source", "cli", "where the request came from")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.TaskFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Assignee", "Project", "Due", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{short(t.ID), clip(t.Name, 40), t.Status, t.Priority, t.Assignee, t.ProjectTag, t.DueDate, relTime(t.LastUpdated)})
				}
				tw.AppendFooter(table.Row{"", humanize.Comma(int64(len(tasks))) + " tasks"})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee email")
	cmd.Flags().StringVar(&f.Project, "project", "", "project tag")
	return cmd
}

func taskShowCmd() *cobra.Command {
	var withLog bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				printTask(t)
				if withLog {
					fmt.Println()
					fmt.Println(t.InteractionLog)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withLog, "log", false, "print the interaction log")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Set task fields",
		Long:  "Sets fields with --set name=value. Status changes belong to 'td task status' so workflows fire.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]string{}
			for _, kv := range sets {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("invalid --set %q, want name=value", kv)
				}
				fields[strings.TrimSpace(k)] = v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], fields)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				printTask(t)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (repeatable)")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.ChangeStatus(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %s -> %s\n", short(res.Task.ID), res.OldStatus, res.Task.Status)
				printReports(res.WorkflowReports)
				return nil
			})
		},
	}
	return cmd
}

func taskReplyCmd() *cobra.Command {
	var r engine.Reply
	cmd := &cobra.Command{
		Use:   "reply <id> <category>",
		Short: "Record a classified reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r.Category = args[1]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.ClassifyReply(ctx, args[0], r, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printTask(res.Task)
				printReports(res.WorkflowReports)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&r.Summary, "summary", "", "reply summary")
	cmd.Flags().StringVar(&r.From, "from", "", "sender")
	cmd.Flags().StringVar(&r.ThreadID, "thread-id", "", "mail thread id")
	cmd.Flags().StringVar(&r.MessageID, "message-id", "", "mail message id")
	cmd.Flags().StringVar(&r.ProposedDueDate, "proposed-due", "", "due date proposed in the reply")
	return cmd
}

func taskLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <id> <message>",
		Short: "Append to a task's interaction log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.AppendLog(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("logged; interaction log is %s characters\n", humanize.Comma(int64(len([]rune(t.InteractionLog)))))
				return nil
			})
		},
	}
	return cmd
}

func printTask(t domain.Task) {
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Name", t.Name},
		{"Status", statusColor(t.Status)},
		{"Priority", t.Priority},
		{"Assignee", t.Assignee},
		{"Project", t.ProjectTag},
		{"Due", t.DueDate},
		{"Progress", t.Progress},
		{"Notes", t.NegotiationNotes},
		{"Created", relTime(t.CreatedAt)},
		{"Updated", relTime(t.LastUpdated)},
		{"Log", humanize.Comma(int64(len([]rune(t.InteractionLog)))) + " chars, " + humanize.Comma(int64(strings.Count(t.InteractionLog, "\n")+1)) + " lines"},
	})
	tw.Render()
}

func statusColor(s domain.Status) string {
	switch s {
	case domain.StatusNeedsClarification, domain.StatusOnHold:
		return color.YellowString(string(s))
	case domain.StatusCompleted:
		return color.GreenString(string(s))
	case domain.StatusArchived:
		return color.HiBlackString(string(s))
	default:
		return string(s)
	}
}

func printMatch(label, query string, m *resolver.Match) {
	if query == "" {
		return
	}
	if m == nil {
		fmt.Printf("%s %q: %s\n", label, query, color.YellowString("unresolved"))
		return
	}
	fmt.Printf("%s %q: %s (%s, %.2f)\n", label, query, m.ID, m.Strategy, m.Score)
}

func printReports(reports []rules.WorkflowReport) {
	if len(reports) == 0 {
		fmt.Println("no workflows matched")
		return
	}
	for _, r := range reports {
		fmt.Printf("workflow %s\n", r.WorkflowID)
		for _, a := range r.Actions {
			fmt.Printf("  %s %s\n", outcome(a), a.Type)
		}
	}
}

func outcome(a rules.ActionResult) string {
	switch {
	case a.Scheduled:
		return color.CyanString("scheduled for " + relTime(a.DueAt))
	case a.Executed:
		return color.GreenString("ok")
	default:
		return color.RedString("failed: " + a.Error)
	}
}
