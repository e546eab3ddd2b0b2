package repo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

const (
	dirPerm       = 0o755
	archivePrefix = "repo-"
	archiveExt    = ".zip"

	keyEnsure  = "ensure"
	keyRefresh = "refresh"

	defaultProbeTTL = 60 * time.Second
)

type RemoteRepository interface {
	Signature(ctx context.Context) (string, error)
	Download(ctx context.Context, w io.Writer, progress func(received, total int64)) (string, error)
}

type MetaRepository interface {
	Load(ctx context.Context) (*entity.RepoMeta, error)
	Save(ctx context.Context, meta *entity.RepoMeta) error
}

type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, progress func(processed, total int)) (string, error)
}

type Option func(*repoStorage)

func WithClock(now func() time.Time) Option {
	return func(s *repoStorage) {
		s.now = now
	}
}

type repoStorage struct {
	fs        afero.Fs
	remote    RemoteRepository
	meta      MetaRepository
	extractor Extractor
	cfg       *config.RepoConfig
	dir       string
	now       func() time.Time

	group singleflight.Group
	// Held exclusively while checking or rebuilding the cache dir, shared while scanning it.
	dirMu sync.RWMutex

	mu             sync.Mutex
	root           string
	mods           []*entity.Mod
	modsRoot       string
	probeSignature string
	probeTime      time.Time

	log *slog.Logger
}

func NewRepoStorage(remote RemoteRepository, meta MetaRepository, extractor Extractor, cfg *config.RepoConfig, dir string, log *slog.Logger, opts ...Option) *repoStorage {
	return NewRepoStorageWithFS(afero.NewOsFs(), remote, meta, extractor, cfg, dir, log, opts...)
}

func NewRepoStorageWithFS(fs afero.Fs, remote RemoteRepository, meta MetaRepository, extractor Extractor, cfg *config.RepoConfig, dir string, log *slog.Logger, opts ...Option) *repoStorage {
	s := &repoStorage{
		fs:        fs,
		remote:    remote,
		meta:      meta,
		extractor: extractor,
		cfg:       cfg,
		dir:       dir,
		now:       time.Now,
		log:       log.With(slog.String("item", "RepoStorage")),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

/*
EnsureReady makes sure the cache dir holds an up to date copy of the repository
and returns the repository root.

Concurrent calls with the same force flag share one in-flight operation, which
runs with the context of the first caller. Progress goes to the first caller's
listener only. Calls with different flags are serialized.
*/
func (s *repoStorage) EnsureReady(ctx context.Context, force bool, l entity.ProgressListener) (string, error) {
	if s.cfg.ZipURL == "" {
		return "", common.ErrRepositoryNotConfigured
	}

	key := keyEnsure
	if force {
		key = keyRefresh
	}

	ch := s.group.DoChan(key, func() (any, error) {
		return s.ensure(ctx, force, entity.OrNop(l))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

// Mods returns the manifest of the repository, scanning the root only when the
// cached manifest is missing or belongs to a previous extraction.
func (s *repoStorage) Mods(ctx context.Context, force bool, l entity.ProgressListener) ([]*entity.Mod, error) {
	root, err := s.EnsureReady(ctx, force, l)
	if err != nil {
		return nil, err
	}

	// A refresh clears the manifest under the write lock, so the scan and the
	// store below must not straddle one.
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	s.mu.Lock()
	if s.mods != nil && s.modsRoot == root {
		mods := slices.Clone(s.mods)
		s.mu.Unlock()

		return mods, nil
	}
	s.mu.Unlock()

	mods, err := s.scan(root)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.mods = mods
	s.modsRoot = root
	s.mu.Unlock()

	metrics.SetManifestSize(len(mods))

	return slices.Clone(mods), nil
}

// Invalidate drops the manifest and probe caches.
func (s *repoStorage) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mods = nil
	s.modsRoot = ""
	s.probeSignature = ""
	s.probeTime = time.Time{}
}

// Clean removes the cache dir. The next EnsureReady downloads the archive again.
func (s *repoStorage) Clean(ctx context.Context) error {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	s.Invalidate()
	s.mu.Lock()
	s.root = ""
	s.mu.Unlock()

	if err := s.fs.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("%w: cannot remove %s: %w", common.ErrFilesystem, s.dir, err)
	}

	s.log.Info("Repository cache removed", slog.String("dir", s.dir))

	return nil
}

func (s *repoStorage) ensure(ctx context.Context, force bool, l entity.ProgressListener) (string, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return "", fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, s.dir, err)
	}

	root := s.expectedRoot()

	var reason string
	switch {
	case force:
		reason = "forced"
	case !util.DirExists(s.fs, root):
		reason = "root is missing"
	case s.needsUpdate(ctx):
		reason = "signature changed"
	}

	if reason == "" {
		s.mu.Lock()
		s.root = root
		s.mu.Unlock()

		return root, nil
	}

	s.log.Info("Refresh repository", slog.String("reason", reason), slog.String("url", s.cfg.ZipURL))

	started := s.now()
	root, err := s.refresh(ctx, l)
	if err != nil {
		metrics.RecordRefresh(metrics.ResultError, 0)
		s.log.Error("Cannot refresh repository", slog.Any("error", err))

		return "", err
	}

	metrics.RecordRefresh(metrics.ResultOK, s.now().Sub(started))

	return root, nil
}

func (s *repoStorage) expectedRoot() string {
	if s.cfg.Subfolder != "" {
		return filepath.Join(s.dir, filepath.FromSlash(s.cfg.Subfolder))
	}

	s.mu.Lock()
	root := s.root
	s.mu.Unlock()
	if root != "" {
		return root
	}

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(s.dir, entry.Name())
		}
	}

	return ""
}

// needsUpdate fails open: when the remote cannot be probed the cached copy is used.
func (s *repoStorage) needsUpdate(ctx context.Context) bool {
	meta, err := s.meta.Load(ctx)
	if err != nil {
		s.log.Warn("Cannot load repository meta", slog.Any("error", err))

		return true
	}

	if meta == nil || meta.Signature == "" {
		return true
	}

	signature, ok := s.remoteSignature(ctx)
	if !ok {
		return false
	}

	return signature != meta.Signature
}

func (s *repoStorage) remoteSignature(ctx context.Context) (string, bool) {
	ttl := s.cfg.ProbeTTL
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}

	s.mu.Lock()
	if s.probeSignature != "" && s.now().Sub(s.probeTime) < ttl {
		signature := s.probeSignature
		s.mu.Unlock()
		metrics.RecordProbe(metrics.ResultCache)

		return signature, true
	}
	s.mu.Unlock()

	signature, err := s.remote.Signature(ctx)
	if err != nil {
		metrics.RecordProbe(metrics.ResultError)
		s.log.Warn("Cannot probe repository, use cached copy", slog.Any("error", err))

		return "", false
	}

	metrics.RecordProbe(metrics.ResultOK)

	if signature == "" {
		s.log.Warn("Repository response has no signature headers, use cached copy")

		return "", false
	}

	s.mu.Lock()
	s.probeSignature = signature
	s.probeTime = s.now()
	s.mu.Unlock()

	return signature, true
}

func (s *repoStorage) refresh(ctx context.Context, l entity.ProgressListener) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.root = ""
	s.mods = nil
	s.modsRoot = ""
	s.mu.Unlock()

	if err := s.fs.RemoveAll(s.dir); err != nil {
		return "", fmt.Errorf("%w: cannot clear %s: %w", common.ErrFilesystem, s.dir, err)
	}

	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return "", fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, s.dir, err)
	}

	archivePath := filepath.Join(s.dir, archivePrefix+uuid.NewString()+archiveExt)

	signature, err := s.download(ctx, archivePath, l)
	if err != nil {
		s.removeArchive(archivePath)

		return "", err
	}

	if err := ctx.Err(); err != nil {
		s.removeArchive(archivePath)

		return "", err
	}

	report := util.PercentThrottle(func(p float64) {
		l.RepoProgress(entity.NewRepoProgress(entity.RepoStateExtract, p))
	})

	topDir, err := s.extractor.Extract(ctx, archivePath, s.dir, func(processed, total int) {
		report(util.Percent(int64(processed), int64(total)))
	})
	s.removeArchive(archivePath)
	if err != nil {
		return "", err
	}

	root, err := s.resolveRoot(topDir)
	if err != nil {
		return "", err
	}

	probed := signature != ""
	if !probed {
		signature = strconv.FormatInt(s.now().UnixMilli(), 10)
	}

	// Without meta every later check sees a stale copy, so the failure is reported.
	if err := s.meta.Save(ctx, &entity.RepoMeta{Signature: signature, UpdatedAt: s.now().UnixMilli()}); err != nil {
		return "", fmt.Errorf("cannot save repository meta: %w", err)
	}

	s.mu.Lock()
	s.root = root
	if probed {
		s.probeSignature = signature
		s.probeTime = s.now()
	}
	s.mu.Unlock()

	s.log.Info("Repository ready", slog.String("root", root), slog.String("signature", signature))

	return root, nil
}

func (s *repoStorage) download(ctx context.Context, archivePath string, l entity.ProgressListener) (string, error) {
	f, err := s.fs.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, archivePath, err)
	}

	report := util.PercentThrottle(func(p float64) {
		l.RepoProgress(entity.NewRepoProgress(entity.RepoStateDownload, p))
	})

	signature, err := s.remote.Download(ctx, f, func(received, total int64) {
		report(util.Percent(received, total))
	})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: cannot write %s: %w", common.ErrFilesystem, archivePath, cerr)
	}

	return signature, err
}

func (s *repoStorage) resolveRoot(topDir string) (string, error) {
	var root string
	switch {
	case s.cfg.Subfolder != "":
		root = filepath.Join(s.dir, filepath.FromSlash(s.cfg.Subfolder))
	case topDir != "":
		root = filepath.Join(s.dir, topDir)
	default:
		return "", fmt.Errorf("%w: archive has no top-level directory", common.ErrArchiveLayout)
	}

	if !util.DirExists(s.fs, root) {
		return "", fmt.Errorf("%w: repository root %s not found in archive", common.ErrArchiveLayout, root)
	}

	return root, nil
}

func (s *repoStorage) removeArchive(archivePath string) {
	if err := s.fs.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Cannot remove archive", slog.String("path", archivePath), slog.Any("error", err))
	}
}

func (s *repoStorage) scan(root string) ([]*entity.Mod, error) {
	var (
		mods   []*entity.Mod
		byName = make(map[string]int)
	)

	err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.Mode().IsRegular() || !util.IsJar(info.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = info.Name()
		}

		mod := &entity.Mod{
			Name:         info.Name(),
			FileName:     info.Name(),
			RelativePath: filepath.ToSlash(rel),
			SourcePath:   path,
		}

		if idx, exists := byName[mod.FileName]; exists {
			s.log.Warn("Duplicate mod file name, the last one wins",
				slog.String("file_name", mod.FileName),
				slog.String("previous", mods[idx].RelativePath),
				slog.String("current", mod.RelativePath))
			mods[idx] = mod

			return nil
		}

		byName[mod.FileName] = len(mods)
		mods = append(mods, mod)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cannot scan repository: %w", common.ErrFilesystem, err)
	}

	if mods == nil {
		mods = []*entity.Mod{}
	}

	s.log.Debug("Repository scanned", slog.String("root", root), slog.Int("mods", len(mods)))

	return mods, nil
}
