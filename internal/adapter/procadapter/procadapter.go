// Package procadapter runs external processes and streams their output line by line.
package procadapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/jgivc/modsync/internal/common"
)

const maxLineSize = 1024 * 1024

type Command struct {
	Path string
	Args []string
	Dir  string
}

// Shell wraps a command line into the platform shell.
func Shell(line, dir string) Command {
	if runtime.GOOS == "windows" {
		return Command{Path: "cmd", Args: []string{"/C", line}, Dir: dir}
	}

	return Command{Path: "/bin/sh", Args: []string{"-c", line}, Dir: dir}
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Path}, c.Args...) {
		if strings.ContainsAny(p, " \t") {
			p = `"` + p + `"`
		}
		parts = append(parts, p)
	}

	return strings.Join(parts, " ")
}

// ExitError reports a process that ran and exited with a non-zero code.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error {
	return common.ErrProcessExit
}

type procAdapter struct {
	log *slog.Logger
}

func NewProcAdapter(log *slog.Logger) *procAdapter {
	return &procAdapter{
		log: log.With(slog.String("item", "ProcAdapter")),
	}
}

// Run starts cmd and waits for it. Every stdout and stderr line goes to onLine.
// The process is killed when ctx is done.
func (a *procAdapter) Run(ctx context.Context, cmd Command, onLine func(line string)) error {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir

	stdout, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cannot open stdout: %w", err)
	}

	stderr, err := c.StderrPipe()
	if err != nil {
		return fmt.Errorf("cannot open stderr: %w", err)
	}

	log := a.log.With(slog.String("command", cmd.Path))
	log.Info("Start process", slog.String("dir", cmd.Dir))

	if err := c.Start(); err != nil {
		return fmt.Errorf("cannot start %s: %w", cmd.Path, err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	emit := func(line string) {
		log.Debug(line)

		if onLine != nil {
			mu.Lock()
			onLine(line)
			mu.Unlock()
		}
	}

	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			scan(r, emit)
		}(r)
	}

	// pipes must be drained before Wait
	wg.Wait()
	err = c.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Error("Process failed", slog.Int("code", exitErr.ExitCode()))

			return &ExitError{Command: cmd.Path, Code: exitErr.ExitCode()}
		}

		return fmt.Errorf("cannot wait for %s: %w", cmd.Path, err)
	}

	log.Info("Process exited")

	return nil
}

func scan(r io.Reader, emit func(string)) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for s.Scan() {
		if line := strings.TrimRight(s.Text(), "\r"); line != "" {
			emit(line)
		}
	}

	// keep draining so the process never blocks on a full pipe
	io.Copy(io.Discard, r)
}
