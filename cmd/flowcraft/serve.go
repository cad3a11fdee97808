package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/logging"
	"github.com/sigmoyd/flowcraft/internal/logstream"
	"github.com/sigmoyd/flowcraft/internal/panel"
	"github.com/sigmoyd/flowcraft/internal/scheduler"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/internal/validation"
	"github.com/sigmoyd/flowcraft/pkg/mcp"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Refresh the workflow cache from the server once",
		Action: func(ctx context.Context, _ *cli.Command) error {
			a := appFrom(ctx)
			c, err := a.client()
			if err != nil {
				return err
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
	}
}

// subscriber builds the log stream feeding st and hub.
func (a *app) subscriber(st *store.LibSQLStore, hub streaming.EventHub) (*logstream.Subscriber, error) {
	return logstream.New(logstream.Config{
		URL:    a.cfg.streamURL(),
		Token:  a.cfg.Token,
		Logger: a.logger,
	}, st, hub)
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the workflow tools over MCP on stdio",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-logs", Usage: "do not follow execution logs"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a := appFrom(ctx)
			c, err := a.client()
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			v, err := validation.NewWorkflowValidator(nil)
			if err != nil {
				return err
			}
			hub := streaming.NewMemoryHub()
			srv := mcp.NewFlowServer(mcp.FlowServerDeps{
				Backend:   c,
				Store:     st,
				Hub:       hub,
				Validator: v,
				Logger:    a.logger,
			})

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			if !cmd.Bool("no-logs") {
				sub, err := a.subscriber(st, hub)
				if err != nil {
					return err
				}
				g.Go(func() error { return sub.Run(gctx) })
			}
			g.Go(func() error {
				defer cancel()
				return srv.Serve(gctx)
			})
			return g.Wait()
		},
	}
}

func panelCommand() *cli.Command {
	return &cli.Command{
		Name:  "panel",
		Usage: "Serve the read API, sync the cache on schedule and follow execution logs",
		Action: func(ctx context.Context, _ *cli.Command) error {
			a := appFrom(ctx)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.servePanel(ctx)
		},
	}
}

func (a *app) servePanel(ctx context.Context) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	hub := streaming.NewMemoryHub()
	sub, err := a.subscriber(st, hub)
	if err != nil {
		return err
	}
	sched, err := a.startScheduler(ctx, c, st, a.cfg.SyncSchedule)
	if err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	newHandler := func(s *scheduler.Scheduler) *panel.PanelServer {
		return panel.NewPanelServer(panel.PanelDeps{Store: st, Hub: hub, Sync: s, Logger: a.logger})
	}
	swapper := newHandlerSwapper(newHandler(sched).Handler())

	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		a.logger.Warn("cannot write pidfile", "error", err)
	}
	defer os.Remove(pidPath())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sub.Run(gctx) })
	g.Go(func() error { return panel.Serve(gctx, a.cfg.ListenAddr, swapper, a.logger) })
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				next, err := a.reload(gctx, c, st, sched)
				if err != nil {
					a.logger.Error("reload failed", "error", err)
					continue
				}
				if next != sched {
					sched = next
					swapper.Swap(newHandler(sched).Handler())
				}
			}
		}
	})
	return g.Wait()
}

func (a *app) startScheduler(ctx context.Context, c *backend.Client, st *store.LibSQLStore, spec string) (*scheduler.Scheduler, error) {
	sched, err := scheduler.NewScheduler(c, st, spec, a.logger)
	if err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	return sched, nil
}

// reload rereads settings.json and env. The log level and sync schedule
// apply at once; other changes are reported and wait for a restart.
func (a *app) reload(ctx context.Context, c *backend.Client, st *store.LibSQLStore, sched *scheduler.Scheduler) (*scheduler.Scheduler, error) {
	next := loadConfig()
	diff := diffConfigs(a.cfg, next)
	if diff.LogLevelChanged {
		a.level.Set(logging.ParseLevel(next.LogLevel))
		a.cfg.LogLevel = next.LogLevel
		a.logger.Info("log level changed", "level", next.LogLevel)
	}
	if diff.ScheduleChanged {
		fresh, err := a.startScheduler(ctx, c, st, next.SyncSchedule)
		if err != nil {
			return sched, err
		}
		_ = sched.Stop()
		a.cfg.SyncSchedule = next.SyncSchedule
		a.logger.Info("sync schedule changed", "schedule", next.SyncSchedule)
		sched = fresh
	}
	if len(diff.RestartNeeded) > 0 {
		a.logger.Warn("settings changed that need a restart", "fields", diff.RestartNeeded)
	}
	return sched, nil
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write settings.json from the resolved configuration",
		Action: func(ctx context.Context, _ *cli.Command) error {
			a := appFrom(ctx)
			path, err := writeSettings(a.cfg)
			if err != nil {
				return err
			}
			a.printf("Config written to %s\n", path)
			if pid, ok := signalRunningPanel(); ok {
				a.printf("Signaled running panel (PID %d) to reload configuration\n", pid)
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(ctx context.Context, _ *cli.Command) error {
			appFrom(ctx).printf("%s\n", version)
			return nil
		},
	}
}
