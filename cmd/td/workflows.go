package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/config"
	"taskdesk/internal/engine"
	"taskdesk/internal/rules"
)

func workflowCmd() *cobra.Command {
	w := &cobra.Command{Use: "workflow", Short: "Manage workflow definitions"}
	w.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListWorkflows(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Trigger", "Active", "Name", "Problem"})
				for _, wf := range items {
					tw.AppendRow(table.Row{wf.ID, wf.Trigger, wf.Active, wf.Name, color.RedString(wf.Error)})
				}
				tw.Render()
				return nil
			})
		},
	})
	w.AddCommand(workflowImportCmd())
	return w
}

func workflowImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import workflows from a YAML list",
		Long:  "Upserts workflows by id. The file is a YAML list in the same shape as the workflows section of taskdesk.yml.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			defs, err := config.WorkflowsFromYAML(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				n, err := e.ImportWorkflows(ctx, defs, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"imported": n})
				}
				fmt.Printf("imported %d workflows\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func triggerCmd() *cobra.Command {
	var taskID, payload string
	cmd := &cobra.Command{
		Use:   "trigger <name>",
		Short: "Fire a trigger by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evt := rules.Context{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &evt); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}
			if taskID != "" {
				evt["task_id"] = taskID
			}
			evt["actor"] = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				reports, err := e.Fire(ctx, args[0], evt)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				printReports(reports)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id the event is about")
	cmd.Flags().StringVar(&payload, "context", "", "extra event fields as a JSON object")
	return cmd
}

func dueCmd() *cobra.Command {
	d := &cobra.Command{Use: "due", Short: "Inspect and run delayed actions"}
	d.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run delayed actions that are due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				results, err := e.RunDue(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				if len(results) == 0 {
					fmt.Println("nothing due")
				}
				for _, r := range results {
					state := outcome(r.Result)
					if r.Final {
						state += color.RedString(" (giving up)")
					}
					fmt.Printf("%s %s on %s (%s)\n", state, r.Result.Type, short(r.TaskID), r.WorkflowID)
				}
				return nil
			})
		},
	})
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued delayed actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.PendingActions(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Action", "Task", "Workflow", "Due", "Status", "Attempts", "Last error"})
				for _, p := range items {
					tw.AppendRow(table.Row{short(p.ID), p.Action.Type, short(p.TaskID), p.WorkflowID, humanize.Time(p.DueAt), p.Status, p.Attempts, p.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", rules.PendingStatusPending, "pending, done or failed (empty for all)")
	d.AddCommand(list)
	return d
}
