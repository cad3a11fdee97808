package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "flowcraft",
		Usage:                 "Turn plain-language requests into automation workflows",
		Version:               version,
		EnableShellCompletion: true,
		Writer:                os.Stdout,
		ErrWriter:             os.Stderr,
		Before:                before,
		After:                 after,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend-url", Usage: "workflow backend base URL"},
			&cli.StringFlag{Name: "ws-url", Usage: "log stream URL (defaults to the backend URL)"},
			&cli.StringFlag{Name: "token", Usage: "bearer token for the backend"},
			&cli.StringFlag{Name: "db-path", Usage: "local cache database path"},
			&cli.StringFlag{Name: "log-level", Usage: "log level (debug, info, warn, error)"},
			&cli.StringFlag{Name: "listen-addr", Usage: "panel listen address"},
			&cli.StringFlag{Name: "sync-schedule", Usage: "cron spec for cache refresh"},
			&cli.FloatFlag{Name: "rate-limit", Usage: "backend requests per second (0 disables)"},
		},
		Commands: []*cli.Command{
			refineCommand(),
			generateCommand(),
			configureCommand(),
			graphCommand(),
			editCommand(),
			saveCommand(),
			runCommand(),
			publishCommand(),
			publicCommand(),
			keysCommand(),
			deleteCommand(),
			listCommand(),
			syncCommand(),
			logsCommand(),
			inspectCommand(),
			mcpCommand(),
			panelCommand(),
			initCommand(),
			versionCommand(),
		},
	}
}
