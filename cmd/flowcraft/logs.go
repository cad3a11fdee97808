package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/sigmoyd/flowcraft/internal/expressions"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func logsCommand() *cli.Command {
	return &cli.Command{
		Name:      "logs",
		Usage:     "Show execution logs of a workflow",
		ArgsUsage: "<workflow-id>",
		Description: "--filter takes an expr expression over workflow_id, node, agent_name,\n" +
			"status, timestamp, failed and data, for example\n" +
			"  --filter 'failed || agent_name == \"GMAIL\"'",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "filter", Usage: "expr expression a log line must match"},
			&cli.IntFlag{Name: "limit", Value: 200},
			&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "keep streaming new log lines"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON lines"},
		},
		Action: runLogs,
	}
}

func runLogs(ctx context.Context, cmd *cli.Command) error {
	a := appFrom(ctx)
	id := cmd.Args().First()
	if id == "" {
		return errors.New("a workflow id is required")
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	p := &logPrinter{a: a, filter: cmd.String("filter"), json: cmd.Bool("json"), engine: expressions.NewExprEngine()}

	traces, err := st.ListTraces(ctx, store.TraceFilter{WorkflowID: id, Limit: cmd.Int("limit")})
	if err != nil {
		return err
	}
	for _, t := range traces {
		if err := p.print(ctx, t.Message); err != nil {
			return err
		}
	}
	if !cmd.Bool("follow") {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{WorkflowID: id, Kinds: []string{schema.EventNodeLog}})
	if err != nil {
		return err
	}
	defer cancel()
	sub, err := a.subscriber(st, hub)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- sub.Run(ctx) }()

	for {
		select {
		case err := <-errCh:
			return err
		case ev, ok := <-events:
			if !ok {
				return <-errCh
			}
			if ev.Log == nil {
				continue
			}
			if err := p.print(ctx, *ev.Log); err != nil {
				return err
			}
		}
	}
}

type logPrinter struct {
	a      *app
	filter string
	json   bool
	engine *expressions.ExprEngine
}

func (p *logPrinter) print(ctx context.Context, msg schema.LogMessage) error {
	ok, err := p.engine.Match(ctx, p.filter, expressions.TraceEnv(msg))
	if err != nil || !ok {
		return err
	}
	if p.json {
		return p.a.printJSON(msg)
	}
	p.a.printf("%s  node %-4s %-12s %s\n", msg.Timestamp, msg.Node, msg.AgentName, msg.Status)
	return nil
}
