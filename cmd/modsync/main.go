package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
)

const (
	programName   = "modsync"
	defaultConfig = "config.yml"
)

type globalOptions struct {
	ConfigPath string
}

func init() {
	log.SetFlags(0)
}

func main() {
	opts := &globalOptions{}

	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.Bool("h", false, "alias for help")
	fs.Bool("help", false, "print usage")
	fs.StringVar(&opts.ConfigPath, "c", defaultConfig, "path to config file")

	cdr := subcommands.NewCommander(fs, programName)
	cdr.Register(&StatusCommand{}, "")
	cdr.Register(&SyncCommand{}, "")
	cdr.Register(&InstallCommand{}, "")
	cdr.Register(&DeleteCommand{}, "")
	cdr.Register(&NotesCommand{}, "")
	cdr.Register(&CleanCommand{}, "")
	cdr.Register(&ServeCommand{}, "")
	cdr.Register(&LaunchCommand{}, "")
	cdr.Register(cdr.HelpCommand(), "help")
	cdr.Register(cdr.FlagsCommand(), "help")
	cdr.Register(cdr.CommandsCommand(), "help")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := cdr.Execute(ctx, opts)
	stop()

	if status != subcommands.ExitSuccess {
		os.Exit(int(status))
	}
}
