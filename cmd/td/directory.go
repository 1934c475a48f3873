package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/engine"
	"taskdesk/internal/resolver"
)

func staffCmd() *cobra.Command {
	s := &cobra.Command{Use: "staff", Short: "Manage staff"}
	s.AddCommand(staffAddCmd())
	s.AddCommand(staffListCmd())
	s.AddCommand(staffLinkCmd(true))
	s.AddCommand(staffLinkCmd(false))
	s.AddCommand(staffRefreshCmd())
	return s
}

func staffAddCmd() *cobra.Command {
	var opts engine.StaffCreateOptions
	cmd := &cobra.Command{
		Use:   "add <email> <name>",
		Short: "Add a staff member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Email, opts.Name, opts.ActorID = args[0], args[1], actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.AddStaff(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Role, "role", "", "role")
	return cmd
}

func staffListCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListStaff(ctx, project)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Email", "Name", "Role", "Active", "Reliability", "Projects"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Email, s.Name, s.Role, s.ActiveTaskCount, fmt.Sprintf("%.2f", s.ReliabilityScore), strings.Join(s.ProjectTags, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "only members of this project")
	return cmd
}

func staffLinkCmd(link bool) *cobra.Command {
	use, desc := "link <email> <project-tag>", "Add a staff member to a project"
	if !link {
		use, desc = "unlink <email> <project-tag>", "Remove a staff member from a project"
	}
	return &cobra.Command{
		Use:   use,
		Short: desc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				op := e.LinkStaffProject
				if !link {
					op = e.UnlinkStaffProject
				}
				s, p, err := op(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"staff": s, "project": p})
				}
				fmt.Printf("%s projects: %s\n%s team: %s\n", s.Email, strings.Join(s.ProjectTags, ","), p.Tag, strings.Join(p.TeamMembers, ","))
				return nil
			})
		},
	}
}

func staffRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recompute active task counts and reliability scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.RefreshStaffStats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectCmd() *cobra.Command {
	p := &cobra.Command{Use: "project", Short: "Manage projects"}
	p.AddCommand(&cobra.Command{
		Use:   "add <tag> <name>",
		Short: "Add a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				proj, err := e.AddProject(ctx, engine.ProjectCreateOptions{Tag: args[0], Name: args[1], ActorID: actor()})
				if err != nil {
					return err
				}
				return printJSONOrTable(proj)
			})
		},
	})
	p.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Tag", "Name", "Team", "Created"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Tag, it.Name, strings.Join(it.TeamMembers, ","), relTime(it.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return p
}

func resolveCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "resolve",
		Short: "Try the entity resolver",
		Long:  "Staff names go through exact, substring, first-name, last-name, similarity and deletion-variant stages; project text through exact, substring, tag and word.",
	}
	for _, kind := range []string{"staff", "project"} {
		kind := kind
		r.AddCommand(&cobra.Command{
			Use:   kind + " <text>",
			Short: "Resolve free text to a " + kind,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
					var (
						m  resolver.Match
						ok bool
					)
					if kind == "staff" {
						m, ok = e.Resolver.ResolveStaff(ctx, args[0])
					} else {
						m, ok = e.Resolver.ResolveProject(ctx, args[0])
					}
					if viper.GetBool("json") {
						return printJSON(map[string]any{"query": args[0], "found": ok, "match": m})
					}
					if !ok {
						fmt.Println(color.YellowString("no match"))
						return nil
					}
					fmt.Printf("%s (%s) via %s, score %.2f\n", m.ID, m.Name, m.Strategy, m.Score)
					return nil
				})
			},
		})
	}
	return r
}
