package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"github.com/google/subcommands"
	"github.com/jgivc/modsync/internal/adapter/procadapter"
	"github.com/jgivc/modsync/internal/app"
	"github.com/jgivc/modsync/internal/service/launch"
)

type ServeCommand struct{}

func (*ServeCommand) Name() string     { return "serve" }
func (*ServeCommand) Synopsis() string { return "run the control API" }
func (*ServeCommand) Usage() string {
	return `Usage: modsync serve

	Serves the control API and progress events on the configured
	listen address until interrupted.
`
}

func (*ServeCommand) SetFlags(f *flag.FlagSet) {}

func (*ServeCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app.App) error {
		return a.Serve(ctx)
	})
}

type LaunchCommand struct {
	Username  string
	MinMemory string
	MaxMemory string
}

func (*LaunchCommand) Name() string     { return "launch" }
func (*LaunchCommand) Synopsis() string { return "sync mods, install Forge and start the game" }
func (*LaunchCommand) Usage() string {
	return `Usage: modsync launch [-user name] [-min 2G] [-max 4G]

	Syncs mods, installs Forge when missing and runs the game.
	The exit code of the game is returned.

Flags:
`
}

func (cmd *LaunchCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&cmd.Username, "user", "", "player name")
	f.StringVar(&cmd.MinMemory, "min", "", "minimum heap, overrides java.min_memory")
	f.StringVar(&cmd.MaxMemory, "max", "", "maximum heap, overrides java.max_memory")
}

func (cmd *LaunchCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app.App) error {
		req := launch.Request{
			Username:  cmd.Username,
			MinMemory: cmd.MinMemory,
			MaxMemory: cmd.MaxMemory,
		}

		return a.Launcher().Launch(ctx, req, a.Listener(progressPrinter()), func(line string) {
			log.Print(line)
		})
	})
}

// exitStatus passes the exit code of a failed child process through.
func exitStatus(err error) subcommands.ExitStatus {
	var exitErr *procadapter.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return subcommands.ExitStatus(exitErr.Code)
	}

	return subcommands.ExitFailure
}
