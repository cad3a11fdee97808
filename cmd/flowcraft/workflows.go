package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	cli "github.com/urfave/cli/v3"

	"github.com/sigmoyd/flowcraft/internal/diagram"
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/expressions"
	"github.com/sigmoyd/flowcraft/internal/session"
	"github.com/sigmoyd/flowcraft/internal/store"
)

// withWorkflow opens the cached workflow named by the first argument.
func withWorkflow(ctx context.Context, cmd *cli.Command, fn func(*app, *session.Session) error) error {
	a := appFrom(ctx)
	id := cmd.Args().First()
	if id == "" {
		return errors.New("a workflow id is required")
	}
	s, err := a.session(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	if _, err := s.Open(ctx, id); err != nil {
		return err
	}
	return fn(a, s)
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Usage:     "Render a cached workflow with its latest execution status",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "ascii", Usage: "ascii, mermaid, png or json"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to this file instead of stdout"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withWorkflow(ctx, cmd, func(a *app, s *session.Session) error {
				model, err := s.Graph(ctx)
				if err != nil {
					return err
				}
				out, err := renderGraph(ctx, model, cmd.String("format"))
				if err != nil {
					return err
				}
				if path := cmd.String("out"); path != "" {
					return os.WriteFile(path, out, 0o644)
				}
				_, err = a.out.Write(out)
				return err
			})
		},
	}
}

func renderGraph(ctx context.Context, model *diagram.DiagramModel, format string) ([]byte, error) {
	switch format {
	case "ascii":
		return []byte(diagram.RenderASCII(model)), nil
	case "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	case "png":
		return diagram.RenderImage(ctx, model)
	case "json":
		return json.MarshalIndent(model, "", "  ")
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Apply edits to a cached workflow and save it",
		ArgsUsage: "<workflow-id>",
		Description: "Each --op is kind=json-args, for example\n" +
			"  --op 'set_workflow_name={\"name\":\"Digest\"}'\n" +
			"  --op 'set_node_config={\"node_id\":2,\"key\":\"label\",\"value\":\"Work\"}'",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "op", Required: true, Usage: "edit as kind=json-args (repeatable)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "print the edited workflow without saving"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ms, err := parseOps(cmd.StringSlice("op"))
			if err != nil {
				return err
			}
			return withWorkflow(ctx, cmd, func(a *app, s *session.Session) error {
				doc, err := s.Mutate(ctx, ms...)
				if err != nil {
					return err
				}
				if cmd.Bool("dry-run") {
					return a.printJSON(doc.Workflow())
				}
				saved, err := s.Save(ctx, false)
				if err != nil {
					return err
				}
				a.printf("Saved workflow %s.\n", saved.ID())
				return nil
			})
		},
	}
}

func parseOps(raw []string) ([]document.Mutation, error) {
	ms := make([]document.Mutation, 0, len(raw))
	for _, r := range raw {
		kind, args, _ := strings.Cut(r, "=")
		m, err := document.Decode(strings.TrimSpace(kind), json.RawMessage(args))
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

func saveCommand() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Push a cached workflow to the server",
		ArgsUsage: "<workflow-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withWorkflow(ctx, cmd, func(a *app, s *session.Session) error {
				// A freshly opened copy is clean, so the save is forced.
				doc, err := s.Save(ctx, true)
				if err != nil {
					return err
				}
				a.printf("Saved workflow %s.\n", doc.ID())
				return nil
			})
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a manual workflow now, or activate a triggered one",
		ArgsUsage: "<workflow-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withWorkflow(ctx, cmd, func(a *app, s *session.Session) error {
				doc, err := s.Run(ctx)
				if err != nil {
					return err
				}
				if doc.Trigger().IsManual() {
					a.printf("Started workflow %s.\n", doc.ID())
				} else {
					a.printf("Activated workflow %s.\n", doc.ID())
				}
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a workflow on the server and from the cache",
		ArgsUsage: "<workflow-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)
			id := cmd.Args().First()
			if id == "" {
				return errors.New("a workflow id is required")
			}
			s, err := a.session(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(ctx)
			if err := s.Delete(ctx, id); err != nil {
				return err
			}
			a.printf("Deleted workflow %s.\n", id)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List cached workflows",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "active", Usage: "only active workflows"},
			&cli.StringFlag{Name: "name", Usage: "name substring"},
			&cli.IntFlag{Name: "limit", Value: 50},
			&cli.BoolFlag{Name: "json", Usage: "print JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			filter := store.WorkflowFilter{Name: cmd.String("name"), Limit: cmd.Int("limit")}
			if cmd.IsSet("active") {
				active := cmd.Bool("active")
				filter.Active = &active
			}
			wfs, err := st.ListWorkflows(ctx, filter)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return a.printJSON(wfs)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tUPDATED")
			for _, wf := range wfs {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", wf.ID, wf.Name, wf.Active, wf.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Query a cached workflow document with jq",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Value: ".", Usage: "jq expression"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)
			id := cmd.Args().First()
			if id == "" {
				return errors.New("a workflow id is required")
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			wf, err := st.GetWorkflow(ctx, id)
			if err != nil {
				return err
			}
			results, err := expressions.NewGoJQEngine().Query(ctx, cmd.String("query"), wf.Document)
			if err != nil {
				return err
			}
			for _, r := range results {
				if err := a.printJSON(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
