package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/sigmoyd/flowcraft/internal/diagram"
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/session"
	"github.com/sigmoyd/flowcraft/internal/wizard"
)

func refineCommand() *cli.Command {
	return &cli.Command{
		Name:      "refine",
		Usage:     "Refine a request interactively, then generate and configure the workflow",
		ArgsUsage: "[request]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "update", Usage: "regenerate the cached workflow with this id"},
		},
		Action: runRefine,
	}
}

func runRefine(ctx context.Context, cmd *cli.Command) error {
	a := appFrom(ctx)
	s, err := a.session(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	update := cmd.String("update")
	if update != "" {
		if _, err := s.Open(ctx, update); err != nil {
			return err
		}
	}

	query := strings.Join(cmd.Args().Slice(), " ")
	if query == "" {
		if query, err = a.ask("What should the workflow do? "); err != nil {
			return err
		}
	}
	st, err := s.Submit(ctx, query)
	for err == nil {
		switch cur := st.(type) {
		case refine.AwaitingClarification:
			st, err = askQuestion(ctx, a, s, cur)
			continue
		case refine.Refined:
			if cur.Notice != "" {
				a.printf("%s\n", cur.Notice)
			}
			a.printf("\nRefined request:\n%s\n\n", cur.Spec)
			amend, askErr := a.ask("Amend it (empty to generate): ")
			if askErr != nil {
				return askErr
			}
			if amend == "" {
				return generateInteractive(ctx, a, s, update != "")
			}
			st, err = s.Amend(ctx, amend)
			continue
		}
		return fmt.Errorf("unexpected refinement phase %s", st.Phase())
	}
	return err
}

func askQuestion(ctx context.Context, a *app, s *session.Session, st refine.AwaitingClarification) (refine.State, error) {
	q := st.Current()
	a.printf("\n[%d/%d] %s\n", st.Index, len(st.Questions), q.Prompt)
	for i, opt := range q.Options {
		a.printf("  %d) %s\n", i+1, opt)
	}
	reply, err := a.ask("> ")
	if err != nil {
		return st, err
	}
	return s.Reply(ctx, pickOption(q, reply))
}

// pickOption maps a 1-based option number to its text. Empty options keep
// the typed reply.
func pickOption(q refine.Question, reply string) string {
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(q.Options) && q.Options[n-1] != "" {
		return q.Options[n-1]
	}
	return reply
}

func generateInteractive(ctx context.Context, a *app, s *session.Session, update bool) error {
	doc, err := s.Generate(ctx, update)
	if err != nil {
		return err
	}
	a.printf("Generated workflow %s (%s)\n", doc.Name(), doc.ID())
	for _, w := range s.View().Warnings {
		a.printf("warning: %s\n", w.Message)
	}

	for {
		switch wiz := s.Wizard().(type) {
		case wizard.Collecting:
			if err := promptTarget(ctx, a, s, wiz); err != nil {
				return err
			}
			if _, err := s.ConfigureNext(ctx); err != nil && !saving(s) {
				return err
			}
		case wizard.Saving:
			a.printf("Save failed: %s\n", wiz.Err)
			again, err := a.ask("Retry? [Y/n] ")
			if err != nil {
				return err
			}
			if strings.EqualFold(again, "n") {
				return errors.New("workflow not saved")
			}
			if _, err := s.ConfigureRetry(ctx); err != nil && !saving(s) {
				return err
			}
		case wizard.Complete:
			if wiz.Skipped {
				a.printf("Nothing to configure.\n")
			} else {
				a.printf("Saved workflow %s.\n", wiz.Doc.ID())
			}
			model, err := s.Graph(ctx)
			if err != nil {
				return err
			}
			a.printf("\n%s", diagram.RenderASCII(model))
			return nil
		default:
			return errors.New("no workflow generated")
		}
	}
}

// saving reports whether a failed wizard save is waiting for a retry.
func saving(s *session.Session) bool {
	_, ok := s.Wizard().(wizard.Saving)
	return ok
}

func promptTarget(ctx context.Context, a *app, s *session.Session, wiz wizard.Collecting) error {
	t := wiz.Current()
	kind := "node " + t.NodeID.String()
	if t.Trigger {
		kind = "trigger"
	}
	a.printf("\nConfigure %s %s (step %d/%d)\n", kind, t.Name, wiz.Cursor+1, len(wiz.Targets))
	for _, key := range t.Keys {
		cur, _ := wiz.Values.Get(key)
		v, err := a.ask(fmt.Sprintf("  %s [%s]: ", key, cur))
		if err != nil {
			return err
		}
		if v == "" {
			continue
		}
		if _, err := s.ConfigureSet(ctx, key, v); err != nil {
			return err
		}
	}
	return nil
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Refine and generate a workflow without prompting",
		ArgsUsage: "<request>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "answer", Aliases: []string{"a"}, Usage: "reply to the next clarifying question (repeatable)"},
			&cli.StringSliceFlag{Name: "set", Usage: "config value as trigger.key=value or <node>.key=value (repeatable)"},
			&cli.StringFlag{Name: "update", Usage: "regenerate the cached workflow with this id"},
		},
		Action: runGenerate,
	}
}

func runGenerate(ctx context.Context, cmd *cli.Command) error {
	a := appFrom(ctx)
	query := strings.Join(cmd.Args().Slice(), " ")
	if query == "" {
		return errors.New("a request is required")
	}
	sets, err := parseAssignments(cmd.StringSlice("set"))
	if err != nil {
		return err
	}

	s, err := a.session(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	update := cmd.String("update")
	if update != "" {
		if _, err := s.Open(ctx, update); err != nil {
			return err
		}
	}

	answers := cmd.StringSlice("answer")
	st, err := s.Submit(ctx, query)
	for err == nil {
		aw, ok := st.(refine.AwaitingClarification)
		if !ok {
			break
		}
		if len(answers) == 0 {
			return fmt.Errorf("question %q needs an answer (--answer)", aw.Current().Prompt)
		}
		st, err = s.Reply(ctx, pickOption(aw.Current(), answers[0]))
		answers = answers[1:]
	}
	if err != nil {
		return err
	}

	if _, err := s.Generate(ctx, update != ""); err != nil {
		return err
	}
	for {
		wiz, ok := s.Wizard().(wizard.Collecting)
		if !ok {
			break
		}
		for _, as := range sets {
			if as.matches(wiz.Current()) {
				if _, err := s.ConfigureSet(ctx, as.Key, as.Value); err != nil {
					return err
				}
			}
		}
		if _, err := s.ConfigureNext(ctx); err != nil {
			return err
		}
	}
	return a.printJSON(s.View())
}

// assignment is one --set value.
type assignment struct {
	Target string // "trigger" or a node id
	Key    string
	Value  string
}

func (as assignment) matches(t wizard.Target) bool {
	if as.Target == "trigger" {
		return t.Trigger
	}
	return !t.Trigger && t.NodeID.String() == as.Target
}

func parseAssignments(raw []string) ([]assignment, error) {
	out := make([]assignment, 0, len(raw))
	for _, r := range raw {
		lhs, value, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: expected target.key=value", r)
		}
		target, key, ok := strings.Cut(lhs, ".")
		if !ok || target == "" || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected target.key=value", r)
		}
		out = append(out, assignment{Target: target, Key: key, Value: value})
	}
	return out, nil
}

func configureCommand() *cli.Command {
	return &cli.Command{
		Name:      "configure",
		Usage:     "Walk through the settings of a cached workflow and save the changes",
		ArgsUsage: "<workflow-id>",
		Action:    runConfigure,
	}
}

func runConfigure(ctx context.Context, cmd *cli.Command) error {
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

	doc, err := s.Open(ctx, id)
	if err != nil {
		return err
	}

	var ms []document.Mutation
	for _, t := range wizard.Targets(doc) {
		values := map[string]string{}
		current := doc.Trigger().ConfigInputs
		if !t.Trigger {
			n, _ := doc.Node(t.NodeID)
			current = n.ConfigInputs
		}
		a.printf("\n%s\n", t.Name)
		for _, key := range t.Keys {
			cur, _ := current.Get(key)
			v, err := a.ask(fmt.Sprintf("  %s [%s]: ", key, cur))
			if err != nil {
				return err
			}
			if v != "" {
				values[key] = v
			}
		}
		if len(values) > 0 {
			ms = append(ms, document.MergeConfig(t.Trigger, t.NodeID, t.Keys, values)...)
		}
	}
	if len(ms) == 0 {
		a.printf("No changes.\n")
		return nil
	}
	if _, err := s.Mutate(ctx, ms...); err != nil {
		return err
	}
	saved, err := s.Save(ctx, false)
	if err != nil {
		return err
	}
	a.printf("Saved workflow %s.\n", saved.ID())
	return nil
}
