package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/logging"
	"github.com/sigmoyd/flowcraft/internal/session"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/internal/validation"
)

// app carries the resolved configuration and shared collaborators of one
// command invocation.
type app struct {
	cfg    Config
	level  *slog.LevelVar
	logger *slog.Logger
	in     *bufio.Reader
	out    io.Writer

	store *store.LibSQLStore
}

type appKey struct{}

func newApp(cfg Config, in io.Reader, out, errOut io.Writer) *app {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	h := slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})
	return &app{
		cfg:    cfg,
		level:  level,
		logger: slog.New(logging.NewCorrelationHandler(h)),
		in:     bufio.NewReader(in),
		out:    out,
	}
}

// before resolves the configuration and stores the app in the context.
func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg := applyFlags(loadConfig(), cmd)
	a := newApp(cfg, os.Stdin, cmd.Root().Writer, cmd.Root().ErrWriter)
	slog.SetDefault(a.logger)
	return context.WithValue(ctx, appKey{}, a), nil
}

// after releases what the command opened.
func after(ctx context.Context, _ *cli.Command) error {
	if a, ok := ctx.Value(appKey{}).(*app); ok {
		return a.close()
	}
	return nil
}

func appFrom(ctx context.Context) *app {
	return ctx.Value(appKey{}).(*app)
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// openStore opens and migrates the local cache on first use.
func (a *app) openStore(ctx context.Context) (*store.LibSQLStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := os.MkdirAll(flowcraftDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", flowcraftDir(), err)
	}
	st, err := store.NewLibSQLStore(a.cfg.dsn())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	a.store = st
	return st, nil
}

func (a *app) client() (*backend.Client, error) {
	return backend.New(backend.Config{
		BaseURL:    a.cfg.BackendURL,
		Token:      a.cfg.Token,
		RateLimit:  a.cfg.RateLimit,
		MaxRetries: 2,
		Logger:     a.logger,
	})
}

// session wires a flow session over the backend and the local cache.
func (a *app) session(ctx context.Context, hub streaming.EventHub) (*session.Session, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	v, err := validation.NewWorkflowValidator(nil)
	if err != nil {
		return nil, err
	}
	return session.New(c, st, session.Config{
		Hub:       hub,
		Validator: v,
		Logger:    a.logger,
	}), nil
}

// ask prints prompt and reads one trimmed line. io.EOF means the input
// is exhausted.
func (a *app) ask(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
