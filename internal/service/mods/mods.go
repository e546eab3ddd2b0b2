package mods

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
	partExt  = ".part"
)

type FailurePolicy int

const (
	// ContinueOnError reports a failed copy as an error event and moves on.
	ContinueOnError FailurePolicy = iota
	// FailFast aborts the sync on the first failed copy.
	FailFast
)

func (p FailurePolicy) String() string {
	if p == FailFast {
		return config.FailurePolicyFailFast
	}

	return config.FailurePolicyContinue
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case config.FailurePolicyContinue, "":
		return ContinueOnError, nil
	case config.FailurePolicyFailFast:
		return FailFast, nil
	}

	return ContinueOnError, fmt.Errorf("unknown failure policy: %s", s)
}

type RepoStorage interface {
	EnsureReady(ctx context.Context, force bool, l entity.ProgressListener) (string, error)
	Mods(ctx context.Context, force bool, l entity.ProgressListener) ([]*entity.Mod, error)
}

type NotesRenderer interface {
	Render(source []byte, statuses []*entity.ModStatus) (*entity.RepoNotes, error)
}

type Config struct {
	ModsDir   string
	NotesFile string
	Policy    FailurePolicy
}

type modService struct {
	fs    afero.Fs
	repo  RepoStorage
	notes NotesRenderer
	cfg   Config
	log   *slog.Logger
}

func NewModService(repo RepoStorage, notes NotesRenderer, cfg Config, log *slog.Logger) *modService {
	return NewModServiceWithFS(afero.NewOsFs(), repo, notes, cfg, log)
}

func NewModServiceWithFS(fs afero.Fs, repo RepoStorage, notes NotesRenderer, cfg Config, log *slog.Logger) *modService {
	if cfg.NotesFile == "" {
		cfg.NotesFile = config.DefaultNotesFile
	}

	return &modService{
		fs:    fs,
		repo:  repo,
		notes: notes,
		cfg:   cfg,
		log:   log.With(slog.String("item", "ModService")),
	}
}

// Statuses reports every repository mod with its presence in the mods folder.
func (s *modService) Statuses(ctx context.Context) ([]*entity.ModStatus, error) {
	if err := s.ensureModsDir(); err != nil {
		return nil, err
	}

	mods, err := s.repo.Mods(ctx, false, nil)
	if err != nil {
		return nil, err
	}

	return s.statuses(mods), nil
}

/*
Sync copies every repository mod missing from the mods folder, or every mod
when opts.Force is set. Mods that are present are reported as skipped.

With ContinueOnError a failed copy is reported as an error event and the
returned error wraps common.ErrPartialSync next to the statuses. With FailFast
the first failure aborts the sync.
*/
func (s *modService) Sync(ctx context.Context, opts entity.SyncOptions) ([]*entity.ModStatus, error) {
	l := entity.OrNop(opts.Listener)
	log := s.log.With(slog.String("run_id", uuid.NewString()), slog.Bool("force", opts.Force))

	if err := s.ensureModsDir(); err != nil {
		return nil, err
	}

	mods, err := s.repo.Mods(ctx, opts.Force, l)
	if err != nil {
		log.Error("Cannot get repository mods", slog.Any("error", err))

		return nil, err
	}

	l.RepoProgress(entity.NewRepoProgress(entity.RepoStateDone, 100))

	var (
		failed          []error
		copied, skipped int
	)

	statuses := make([]*entity.ModStatus, 0, len(mods))
	for _, mod := range mods {
		if err := ctx.Err(); err != nil {
			log.Info("Sync interrupted", slog.Int("copied", copied))

			return nil, err
		}

		target := s.target(mod.FileName)

		if !opts.Force && util.FileExists(s.fs, target) {
			l.ModProgress(progress(mod, entity.ModStateSkipped, 100))
			metrics.RecordModOperation(string(entity.ModStateSkipped))
			skipped++
			statuses = append(statuses, s.status(mod))

			continue
		}

		l.ModProgress(progress(mod, entity.ModStateInstalling, 0))

		if err := s.copy(ctx, mod, target, nil); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			p := progress(mod, entity.ModStateError, 0)
			p.Error = common.Describe(err)
			l.ModProgress(p)
			metrics.RecordModOperation(string(entity.ModStateError))
			log.Error("Cannot install mod", slog.String("file_name", mod.FileName), slog.Any("error", err))

			if s.cfg.Policy == FailFast {
				return nil, fmt.Errorf("cannot install %s: %w", mod.FileName, err)
			}

			failed = append(failed, fmt.Errorf("%s: %w", mod.FileName, err))
		} else {
			l.ModProgress(progress(mod, entity.ModStateDone, 100))
			metrics.RecordModOperation(string(entity.ModStateDone))
			copied++
		}

		statuses = append(statuses, s.status(mod))
	}

	log.Info("Sync done", slog.Int("mods", len(mods)), slog.Int("copied", copied), slog.Int("skipped", skipped), slog.Int("failed", len(failed)))

	if len(failed) > 0 {
		return statuses, fmt.Errorf("%w: %w", common.ErrPartialSync, errors.Join(failed...))
	}

	return statuses, nil
}

// InstallMod copies a single mod, overwriting the installed copy, with byte-level progress.
func (s *modService) InstallMod(ctx context.Context, fileName string, l entity.ProgressListener) ([]*entity.ModStatus, error) {
	l = entity.OrNop(l)

	name := util.SafeBaseName(fileName)
	if name == "" {
		return nil, fmt.Errorf("%w: empty file name", common.ErrModNotFound)
	}

	if err := s.ensureModsDir(); err != nil {
		return nil, err
	}

	mods, err := s.repo.Mods(ctx, false, l)
	if err != nil {
		return nil, err
	}

	var mod *entity.Mod
	for _, m := range mods {
		if m.FileName == name {
			mod = m

			break
		}
	}

	if mod == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrModNotFound, name)
	}

	report := util.PercentThrottle(func(p float64) {
		l.ModProgress(progress(mod, entity.ModStateInstalling, p))
	})
	report(0)

	if err := s.copy(ctx, mod, s.target(mod.FileName), report); err != nil {
		if ctx.Err() == nil {
			p := progress(mod, entity.ModStateError, 0)
			p.Error = common.Describe(err)
			l.ModProgress(p)
			metrics.RecordModOperation(string(entity.ModStateError))
		}

		s.log.Error("Cannot install mod", slog.String("file_name", mod.FileName), slog.Any("error", err))

		return nil, err
	}

	l.ModProgress(progress(mod, entity.ModStateDone, 100))
	metrics.RecordModOperation(string(entity.ModStateDone))
	s.log.Info("Mod installed", slog.String("file_name", mod.FileName))

	return s.statuses(mods), nil
}

// DeleteMod removes one file from the mods folder. Only the base name of
// fileName is used. A missing file is not an error.
func (s *modService) DeleteMod(ctx context.Context, fileName string) ([]*entity.ModStatus, error) {
	if name := util.SafeBaseName(fileName); name != "" {
		if err := s.fs.Remove(s.target(name)); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: cannot delete %s: %w", common.ErrFilesystem, name, err)
			}
		} else {
			s.log.Info("Mod deleted", slog.String("file_name", name))
		}
	}

	return s.Statuses(ctx)
}

// DeleteAllMods removes every jar from the mods folder. Other files and
// directories are left alone.
func (s *modService) DeleteAllMods(ctx context.Context) ([]*entity.ModStatus, error) {
	entries, err := afero.ReadDir(s.fs, s.cfg.ModsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: cannot read %s: %w", common.ErrFilesystem, s.cfg.ModsDir, err)
	}

	var (
		errs    []error
		deleted int
	)

	for _, entry := range entries {
		if !entry.Mode().IsRegular() || !util.IsJar(entry.Name()) {
			continue
		}

		if err := s.fs.Remove(s.target(entry.Name())); err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, err)
			}

			continue
		}

		deleted++
	}

	s.log.Info("Mods deleted", slog.Int("count", deleted), slog.Int("failed", len(errs)))

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: cannot delete mods: %w", common.ErrFilesystem, errors.Join(errs...))
	}

	return s.Statuses(ctx)
}

// Notes renders the notes file shipped in the repository root.
func (s *modService) Notes(ctx context.Context) (*entity.RepoNotes, error) {
	if s.notes == nil {
		return nil, common.ErrNotesNotFound
	}

	root, err := s.repo.EnsureReady(ctx, false, nil)
	if err != nil {
		return nil, err
	}

	source, err := afero.ReadFile(s.fs, filepath.Join(root, s.cfg.NotesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrNotesNotFound
		}

		return nil, fmt.Errorf("%w: cannot read notes: %w", common.ErrFilesystem, err)
	}

	statuses, err := s.Statuses(ctx)
	if err != nil {
		return nil, err
	}

	notes, err := s.notes.Render(source, statuses)
	if err != nil {
		return nil, fmt.Errorf("cannot render notes: %w", err)
	}

	return notes, nil
}

func (s *modService) copy(ctx context.Context, mod *entity.Mod, target string, report func(percent float64)) error {
	src, err := s.fs.Open(mod.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: cannot open %s: %w", common.ErrFilesystem, mod.SourcePath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("%w: cannot stat %s: %w", common.ErrFilesystem, mod.SourcePath, err)
	}

	tmp := target + partExt
	dst, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, tmp, err)
	}

	pw := &util.ProgressWriter{W: dst}
	if report != nil {
		size := info.Size()
		pw.OnWrite = func(written int64) { report(util.Percent(written, size)) }
	}

	n, err := io.Copy(pw, util.NewContextReader(ctx, src))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	metrics.AddBytesCopied(n)

	if err != nil {
		s.removePart(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%w: cannot copy %s: %w", common.ErrFilesystem, mod.FileName, err)
	}

	if err := s.fs.Rename(tmp, target); err != nil {
		s.removePart(tmp)

		return fmt.Errorf("%w: cannot move %s into place: %w", common.ErrFilesystem, mod.FileName, err)
	}

	return nil
}

func (s *modService) removePart(path string) {
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Cannot remove partial file", slog.String("path", path), slog.Any("error", err))
	}
}

func (s *modService) ensureModsDir() error {
	if err := s.fs.MkdirAll(s.cfg.ModsDir, dirPerm); err != nil {
		return fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, s.cfg.ModsDir, err)
	}

	return nil
}

func (s *modService) target(fileName string) string {
	return filepath.Join(s.cfg.ModsDir, fileName)
}

func (s *modService) status(mod *entity.Mod) *entity.ModStatus {
	return &entity.ModStatus{
		Name:      mod.Name,
		FileName:  mod.FileName,
		Installed: util.FileExists(s.fs, s.target(mod.FileName)),
	}
}

func (s *modService) statuses(mods []*entity.Mod) []*entity.ModStatus {
	statuses := make([]*entity.ModStatus, 0, len(mods))
	for _, mod := range mods {
		statuses = append(statuses, s.status(mod))
	}

	return statuses
}

func progress(mod *entity.Mod, state entity.ModState, percent float64) entity.ModProgress {
	return entity.ModProgress{
		FileName: mod.FileName,
		Name:     mod.Name,
		State:    state,
		Percent:  percent,
	}
}
