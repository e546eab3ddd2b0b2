package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/jgivc/modsync/internal/adapter/procadapter"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/spf13/afero"
)

const (
	defaultUsername = "Player"
	dirPerm         = 0o755
	filePerm        = 0o644
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

type Syncer interface {
	Sync(ctx context.Context, opts entity.SyncOptions) ([]*entity.ModStatus, error)
}

type ForgeInstaller interface {
	Enabled() bool
	EnsureInstalled(ctx context.Context, minecraftDir string, onStatus func(string)) (string, error)
}

type Runner interface {
	Run(ctx context.Context, cmd procadapter.Command, onLine func(line string)) error
}

type Request struct {
	Username  string
	MinMemory string
	MaxMemory string
}

type launchService struct {
	fs     afero.Fs
	cfg    *config.Config
	syncer Syncer
	forge  ForgeInstaller
	runner Runner

	appData string

	log *slog.Logger
}

func NewLaunchService(cfg *config.Config, syncer Syncer, forge ForgeInstaller, runner Runner, log *slog.Logger) *launchService {
	return NewLaunchServiceWithFS(afero.NewOsFs(), cfg, syncer, forge, runner, log)
}

func NewLaunchServiceWithFS(fs afero.Fs, cfg *config.Config, syncer Syncer, forge ForgeInstaller, runner Runner, log *slog.Logger) *launchService {
	return &launchService{
		fs:      fs,
		cfg:     cfg,
		syncer:  syncer,
		forge:   forge,
		runner:  runner,
		appData: appDataDir(),
		log:     log.With(slog.String("item", "LaunchService")),
	}
}

/*
Launch syncs mods (not forced), makes sure Forge is installed and runs the game.
Any sync error, including a partial sync, stops the launch. A non-zero exit of
the game is returned as an error wrapping common.ErrProcessExit.
*/
func (s *launchService) Launch(ctx context.Context, req Request, l entity.ProgressListener, onLog func(string)) error {
	if onLog == nil {
		onLog = func(string) {}
	}

	if _, err := s.syncer.Sync(ctx, entity.SyncOptions{Listener: l}); err != nil {
		return fmt.Errorf("cannot sync mods: %w", err)
	}

	if s.forge != nil && s.forge.Enabled() {
		if _, err := s.forge.EnsureInstalled(ctx, s.cfg.MinecraftDir, onLog); err != nil {
			return err
		}
	}

	cmd, err := s.Command(req, onLog)
	if err != nil {
		return err
	}

	onLog("Command: " + cmd.String())
	s.log.Info("Launch game", slog.String("command", cmd.Path), slog.String("dir", cmd.Dir))

	if err := s.runner.Run(ctx, cmd, onLog); err != nil {
		s.log.Error("Game exited with error", slog.Any("error", err))

		return err
	}

	return nil
}

// Command builds the process to run. It writes the args file when an args
// template is configured.
func (s *launchService) Command(req Request, onLog func(string)) (procadapter.Command, error) {
	lc := &s.cfg.Launch
	ph := s.placeholders(req)

	workDir := apply(lc.WorkDir, ph)
	if workDir == "" {
		workDir = s.cfg.MinecraftDir
	}

	if lc.ArgsTemplate != "" {
		path, err := s.writeArgsFile(apply(lc.ArgsTemplate, ph), apply(lc.ArgsFileName, ph), workDir, ph)
		if err != nil {
			return procadapter.Command{}, err
		}

		ph["argsFilePath"] = path
		ph["argsFileName"] = filepath.Base(path)

		if onLog != nil {
			onLog("Args file written: " + path)
		}
	}

	if lc.Command != "" {
		return procadapter.Shell(apply(lc.Command, ph), workDir), nil
	}

	jvmArgs := lc.JVMArgs
	if len(jvmArgs) == 0 {
		jvmArgs = []string{"-Xms{minMemory}", "-Xmx{maxMemory}"}
	}

	args := applyAll(jvmArgs, ph)

	if len(lc.Classpath) > 0 {
		args = append(args, "-cp", strings.Join(applyAll(lc.Classpath, ph), string(os.PathListSeparator)))
	}

	args = append(args, lc.MainClass)
	args = append(args, applyAll(lc.GameArgs, ph)...)

	return procadapter.Command{
		Path: apply(s.cfg.Java.Executable, ph),
		Args: args,
		Dir:  workDir,
	}, nil
}

func (s *launchService) writeArgsFile(templatePath, name, workDir string, ph map[string]string) (string, error) {
	tmpl, err := afero.ReadFile(s.fs, templatePath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read args template: %w", common.ErrFilesystem, err)
	}

	target := name
	if !filepath.IsAbs(target) {
		target = filepath.Join(workDir, name)
	}

	if err := s.fs.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return "", fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, filepath.Dir(target), err)
	}

	if err := afero.WriteFile(s.fs, target, []byte(apply(string(tmpl), ph)), filePerm); err != nil {
		return "", fmt.Errorf("%w: cannot write args file: %w", common.ErrFilesystem, err)
	}

	return target, nil
}

func (s *launchService) placeholders(req Request) map[string]string {
	username := req.Username
	if username == "" {
		username = defaultUsername
	}

	minMemory := req.MinMemory
	if minMemory == "" {
		minMemory = s.cfg.Java.MinMemory
	}

	maxMemory := req.MaxMemory
	if maxMemory == "" {
		maxMemory = s.cfg.Java.MaxMemory
	}

	return map[string]string{
		"username":            username,
		"minMemory":           minMemory,
		"maxMemory":           maxMemory,
		"minecraftDir":        s.cfg.MinecraftDir,
		"minecraftDirForward": forward(s.cfg.MinecraftDir),
		"appData":             s.appData,
		"appDataForward":      forward(s.appData),
	}
}

// apply replaces {name} placeholders. Unknown names become empty strings.
func apply(value string, ph map[string]string) string {
	if value == "" {
		return value
	}

	return placeholderRe.ReplaceAllStringFunc(value, func(m string) string {
		return ph[m[1:len(m)-1]]
	})
}

func applyAll(values []string, ph map[string]string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, apply(v, ph))
	}

	return out
}

func forward(path string) string {
	return strings.ReplaceAll(path, `\`, "/")
}

func appDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return dir
		}

		return filepath.Join(home, "AppData", "Roaming")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support")
	}

	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}

	return filepath.Join(home, ".config")
}
