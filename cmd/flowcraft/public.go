package main

import (
	"context"
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/scheduler"
	"github.com/sigmoyd/flowcraft/internal/session"
)

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Share a saved workflow publicly",
		ArgsUsage: "<workflow-id>",
		Description: "The public copy can have its config values cleared with --blank\n" +
			"and further edits applied with --op, which takes the same kind=json-args\n" +
			"form as the edit command. The cached workflow itself is not changed.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "blank", Usage: "clear every config value in the public copy"},
			&cli.StringFlag{Name: "prompt", Usage: "description shown instead of the stored refined prompt"},
			&cli.StringSliceFlag{Name: "op", Usage: "edit applied to the public copy (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ms, err := parseOps(cmd.StringSlice("op"))
			if err != nil {
				return err
			}
			return withWorkflow(ctx, cmd, func(a *app, s *session.Session) error {
				out, err := s.Publish(ctx, session.PublishOptions{
					Prompt: cmd.String("prompt"),
					Blank:  cmd.Bool("blank"),
					Edits:  ms,
				})
				if err != nil {
					return err
				}
				a.printf("Published workflow %s.\n", out.WorkflowID)
				return nil
			})
		},
	}
}

func publicCommand() *cli.Command {
	return &cli.Command{
		Name:  "public",
		Usage: "Browse and copy published workflows",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Print a published workflow",
				ArgsUsage: "<wid>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a := appFrom(ctx)
					wid, err := widArg(cmd)
					if err != nil {
						return err
					}
					c, err := a.client()
					if err != nil {
						return err
					}
					pub, err := c.GetPublic(ctx, wid)
					if err != nil {
						return err
					}
					return a.printJSON(pub)
				},
			},
			{
				Name:      "use",
				Usage:     "Copy a published workflow into your workflows",
				ArgsUsage: "<wid>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-sync", Usage: "skip refreshing the local cache"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a := appFrom(ctx)
					wid, err := widArg(cmd)
					if err != nil {
						return err
					}
					c, err := a.client()
					if err != nil {
						return err
					}
					if err := c.UsePublicWorkflow(ctx, wid); err != nil {
						return err
					}
					a.printf("Workflow %s was added to your workflows.\n", wid)
					if cmd.Bool("no-sync") {
						return nil
					}
					st, err := a.openStore(ctx)
					if err != nil {
						return err
					}
					sched, err := scheduler.NewScheduler(c, st, a.cfg.SyncSchedule, a.logger)
					if err != nil {
						return err
					}
					res, err := sched.Sync(ctx)
					if err != nil {
						return err
					}
					a.printf("Synced: %d upserted, %d removed.\n", res.Upserted, res.Removed)
					return nil
				},
			},
		},
	}
}

func widArg(cmd *cli.Command) (string, error) {
	wid := cmd.Args().First()
	if wid == "" {
		return "", errors.New("a published workflow id is required")
	}
	return wid, nil
}

func keysCommand() *cli.Command {
	flags := make([]cli.Flag, 0, len(backend.ProviderKeys))
	for _, name := range backend.ProviderKeys {
		flags = append(flags, &cli.StringFlag{Name: name, Usage: name + " api key"})
	}
	return &cli.Command{
		Name:  "keys",
		Usage: "Store the provider API keys workflows run with",
		Description: "Runs that fail with CONFIG_REQUIRED succeed once the missing keys\n" +
			"are stored. Keys left out are not changed on the server.",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)
			keys := apiKeysFrom(cmd.String)
			if len(keys) == 0 {
				return fmt.Errorf("set at least one of --%s, --%s or --%s", backend.ProviderKeys[0], backend.ProviderKeys[1], backend.ProviderKeys[2])
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := c.SaveAPIKeys(ctx, keys); err != nil {
				return err
			}
			a.printf("Stored %d api key(s).\n", len(keys))
			return nil
		},
	}
}

// apiKeysFrom collects the non-empty provider keys returned by get.
func apiKeysFrom(get func(string) string) backend.APIKeys {
	keys := backend.APIKeys{}
	for _, name := range backend.ProviderKeys {
		if v := get(name); v != "" {
			keys[name] = v
		}
	}
	return keys
}
