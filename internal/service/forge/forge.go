package forge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jgivc/modsync/internal/adapter/procadapter"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
)

const (
	versionsFolderName = "versions"
	dirPerm            = 0o755
	filePerm           = 0o644
)

type Downloader interface {
	Download(ctx context.Context, w io.Writer, progress func(received, total int64)) (string, error)
}

type Runner interface {
	Run(ctx context.Context, cmd procadapter.Command, onLine func(line string)) error
}

type forgeService struct {
	fs     afero.Fs
	cfg    *config.ForgeConfig
	java   string
	dir    string
	dl     Downloader
	runner Runner

	log *slog.Logger
}

func NewForgeService(cfg *config.ForgeConfig, java, dir string, dl Downloader, runner Runner, log *slog.Logger) *forgeService {
	return NewForgeServiceWithFS(afero.NewOsFs(), cfg, java, dir, dl, runner, log)
}

func NewForgeServiceWithFS(fs afero.Fs, cfg *config.ForgeConfig, java, dir string, dl Downloader, runner Runner, log *slog.Logger) *forgeService {
	return &forgeService{
		fs:     fs,
		cfg:    cfg,
		java:   java,
		dir:    dir,
		dl:     dl,
		runner: runner,
		log:    log.With(slog.String("item", "ForgeService")),
	}
}

func (s *forgeService) Enabled() bool {
	return s.cfg.Enabled()
}

/*
EnsureInstalled returns minecraftDir/versions/<profile>. When that directory is
missing the installer is downloaded into the forge cache dir (once) and run
with --installClient. onStatus receives short human readable stage names and
the installer output.
*/
func (s *forgeService) EnsureInstalled(ctx context.Context, minecraftDir string, onStatus func(string)) (string, error) {
	if onStatus == nil {
		onStatus = func(string) {}
	}

	versionDir := filepath.Join(minecraftDir, versionsFolderName, s.cfg.Profile())
	if util.DirExists(s.fs, versionDir) {
		s.log.Debug("Forge already installed", slog.String("profile", s.cfg.Profile()))

		return versionDir, nil
	}

	onStatus("Downloading Forge")

	installer, err := s.installer(ctx)
	if err != nil {
		return "", err
	}

	onStatus("Installing Forge")

	cmd := procadapter.Command{
		Path: s.java,
		Args: []string{"-jar", installer, "--installClient", minecraftDir},
		Dir:  s.dir,
	}

	if err := s.runner.Run(ctx, cmd, onStatus); err != nil {
		s.log.Error("Forge installer failed", slog.Any("error", err))

		return "", fmt.Errorf("cannot install forge %s: %w", s.cfg.Profile(), err)
	}

	s.log.Info("Forge installed", slog.String("profile", s.cfg.Profile()))

	return versionDir, nil
}

func (s *forgeService) installer(ctx context.Context) (string, error) {
	target := filepath.Join(s.dir, s.cfg.InstallerFileName())
	if util.FileExists(s.fs, target) {
		return target, nil
	}

	if s.cfg.InstallerURL == "" {
		return "", fmt.Errorf("%w: forge installer_url", common.ErrRepositoryNotConfigured)
	}

	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return "", fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, s.dir, err)
	}

	tmp := target + ".part"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return "", fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, tmp, err)
	}

	_, err = s.dl.Download(ctx, f, nil)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: cannot close %s: %w", common.ErrFilesystem, tmp, cerr)
	}

	if err != nil {
		s.fs.Remove(tmp)

		return "", fmt.Errorf("cannot download forge installer: %w", err)
	}

	if err := s.fs.Rename(tmp, target); err != nil {
		s.fs.Remove(tmp)

		return "", fmt.Errorf("%w: cannot move installer into place: %w", common.ErrFilesystem, err)
	}

	s.log.Info("Forge installer downloaded", slog.String("path", target))

	return target, nil
}
