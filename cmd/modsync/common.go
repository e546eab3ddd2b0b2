package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/subcommands"
	"github.com/jgivc/modsync/internal/app"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
)

// run loads the config named in the global options, wires the app and calls fn.
func run(ctx context.Context, args []interface{}, fn func(a *app.App) error) subcommands.ExitStatus {
	opts, ok := args[0].(*globalOptions)
	if !ok {
		log.Print("missing global options")
		return subcommands.ExitFailure
	}

	cfgPath := opts.ConfigPath
	if _, err := os.Stat(cfgPath); err != nil && cfgPath == defaultConfig {
		// the default file is optional; env and .env may carry everything
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("config %q: %+v", opts.ConfigPath, err)
		return subcommands.ExitFailure
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Printf("init: %+v", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := fn(a); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Print("interrupted")
			return subcommands.ExitFailure
		}

		log.Print(common.Describe(err))

		return exitStatus(err)
	}

	return subcommands.ExitSuccess
}

func printStatuses(statuses []*entity.ModStatus) {
	installed := 0
	for _, st := range statuses {
		mark := " "
		if st.Installed {
			mark = "x"
			installed++
		}
		fmt.Printf("[%s] %s\n", mark, st.FileName)
	}
	fmt.Printf("%d/%d installed\n", installed, len(statuses))
}

// progressPrinter writes progress to stdout. Repo stages are printed every 10%.
func progressPrinter() entity.ProgressListener {
	lastStage := entity.RepoState("")
	lastStep := -1

	return entity.ListenerFuncs{
		OnMod: func(p entity.ModProgress) {
			switch p.State {
			case entity.ModStateInstalling:
				if p.Percent > 0 {
					return
				}
			case entity.ModStateError:
				fmt.Printf("%-10s %s: %s\n", p.State, p.FileName, p.Error)
				return
			}
			fmt.Printf("%-10s %s\n", p.State, p.FileName)
		},
		OnRepo: func(p entity.RepoProgress) {
			step := int(p.Percent) / 10
			if p.State == lastStage && step == lastStep {
				return
			}
			lastStage, lastStep = p.State, step
			fmt.Printf("repo %-8s %3.0f%%\n", p.State, p.Percent)
		},
	}
}
