package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/subcommands"
	"github.com/jgivc/modsync/internal/app"
	"github.com/jgivc/modsync/internal/entity"
)

type StatusCommand struct{}

func (*StatusCommand) Name() string     { return "status" }
func (*StatusCommand) Synopsis() string { return "list repository mods and whether they are installed" }
func (*StatusCommand) Usage() string {
	return `Usage: modsync status

	Refreshes the repository cache when the remote archive changed
	and lists every mod with its install state.
`
}

func (*StatusCommand) SetFlags(f *flag.FlagSet) {}

func (*StatusCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app.App) error {
		statuses, err := a.Mods().Statuses(ctx)
		if err != nil {
			return err
		}
		printStatuses(statuses)

		return nil
	})
}

type SyncCommand struct {
	Force bool
}

func (*SyncCommand) Name() string     { return "sync" }
func (*SyncCommand) Synopsis() string { return "install missing mods" }
func (*SyncCommand) Usage() string {
	return `Usage: modsync sync [-force]

	Copies repository mods that are missing from the mods folder.
	With -force the archive is downloaded again and every mod is copied.

Flags:
`
}

func (cmd *SyncCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.Force, "force", false, "redownload the archive and overwrite installed mods")
}

func (cmd *SyncCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app.App) error {
		statuses, err := a.Mods().Sync(ctx, entity.SyncOptions{
			Force:    cmd.Force,
			Listener: a.Listener(progressPrinter()),
		})
		if statuses != nil {
			printStatuses(statuses)
		}

		return err
	})
}

type InstallCommand struct{}

func (*InstallCommand) Name() string     { return "install" }
func (*InstallCommand) Synopsis() string { return "install or reinstall one mod" }
func (*InstallCommand) Usage() string {
	return `Usage: modsync install <file.jar>

	Copies one mod from the repository, overwriting the installed copy.
`
}

func (*InstallCommand) SetFlags(f *flag.FlagSet) {}

func (*InstallCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		log.Print("install: exactly one file name expected")
		return subcommands.ExitUsageError
	}

	return run(ctx, args, func(a *app.App) error {
		statuses, err := a.Mods().InstallMod(ctx, f.Arg(0), a.Listener(progressPrinter()))
		if err != nil {
			return err
		}
		printStatuses(statuses)

		return nil
	})
}

type DeleteCommand struct {
	All bool
}

func (*DeleteCommand) Name() string     { return "delete" }
func (*DeleteCommand) Synopsis() string { return "delete installed mods" }
func (*DeleteCommand) Usage() string {
	return `Usage: modsync delete <file.jar>
       modsync delete -all

	Removes one file, or every jar, from the mods folder.

Flags:
`
}

func (cmd *DeleteCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.All, "all", false, "delete every jar in the mods folder")
}

func (cmd *DeleteCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if cmd.All == (f.NArg() == 1) || f.NArg() > 1 {
		log.Print("delete: either -all or one file name expected")
		return subcommands.ExitUsageError
	}

	return run(ctx, args, func(a *app.App) error {
		var (
			statuses []*entity.ModStatus
			err      error
		)

		if cmd.All {
			statuses, err = a.Mods().DeleteAllMods(ctx)
		} else {
			statuses, err = a.Mods().DeleteMod(ctx, f.Arg(0))
		}
		if err != nil {
			return err
		}
		printStatuses(statuses)

		return nil
	})
}

type NotesCommand struct{}

func (*NotesCommand) Name() string     { return "notes" }
func (*NotesCommand) Synopsis() string { return "print the repository notes as HTML" }
func (*NotesCommand) Usage() string {
	return `Usage: modsync notes

	Renders the notes file shipped in the repository archive.
`
}

func (*NotesCommand) SetFlags(f *flag.FlagSet) {}

func (*NotesCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app.App) error {
		notes, err := a.Mods().Notes(ctx)
		if err != nil {
			return err
		}

		if notes.Title != "" {
			log.Printf("%s %s", notes.Title, notes.Version)
		}
		fmt.Println(notes.HTML)

		return nil
	})
}

type CleanCommand struct{}

func (*CleanCommand) Name() string     { return "clean" }
func (*CleanCommand) Synopsis() string { return "remove the repository cache" }
func (*CleanCommand) Usage() string {
	return `Usage: modsync clean

	Removes the extracted repository and its metadata.
	The next sync downloads the archive again.
`
}

func (*CleanCommand) SetFlags(f *flag.FlagSet) {}

func (*CleanCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app.App) error {
		return a.Repo().Clean(ctx)
	})
}
