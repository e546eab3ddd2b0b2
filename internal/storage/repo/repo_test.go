package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jgivc/modsync/internal/adapter/zipadapter"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/repository/meta"
	"github.com/jgivc/modsync/internal/repository/remote"
	"github.com/jgivc/modsync/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	repoDir  = "/runtime/mods-repo"
	metaPath = "/runtime/mods-repo/repo-meta.json"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

type env struct {
	fs    afero.Fs
	srv   *testutil.ArchiveServer
	clock *fakeClock
	cfg   *config.RepoConfig
}

func newEnv(t *testing.T, files map[string]string, etag string) *env {
	srv := testutil.NewArchiveServer(t, testutil.ZipArchive(t, files), etag)

	return &env{
		fs:    afero.NewMemMapFs(),
		srv:   srv,
		clock: newFakeClock(),
		cfg:   &config.RepoConfig{ZipURL: srv.URL(), ProbeTTL: 60 * time.Second},
	}
}

// storage builds a fresh instance over the same filesystem, like a launcher restart.
func (e *env) storage() *repoStorage {
	log := testutil.Logger()

	return NewRepoStorageWithFS(
		e.fs,
		remote.NewRemoteRepository(e.cfg.ZipURL, e.srv.Client(), time.Second, log),
		meta.NewFileMetaRepositoryWithFS(e.fs, metaPath, log),
		zipadapter.NewZipAdapterWithFS(e.fs, log),
		e.cfg,
		repoDir,
		log,
		WithClock(e.clock.Now),
	)
}

func modNames(mods []*entity.Mod) []string {
	names := make([]string, 0, len(mods))
	for _, mod := range mods {
		names = append(names, mod.FileName)
	}

	return names
}

var basicFiles = map[string]string{
	"pack-main/mods/jei.jar":    "jei",
	"pack-main/mods/create.jar": "create",
}

func TestEnsureReadyFirstRun(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	s := e.storage()

	root, err := s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)
	require.Equal(t, repoDir+"/pack-main", root)
	require.EqualValues(t, 1, e.srv.Gets.Load())
	require.EqualValues(t, 0, e.srv.Heads.Load())

	m, err := meta.NewFileMetaRepositoryWithFS(e.fs, metaPath, testutil.Logger()).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, `"v1"`, m.Signature)
	require.Equal(t, e.clock.Now().UnixMilli(), m.UpdatedAt)

	entries, err := afero.ReadDir(e.fs, repoDir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".zip")
	}
}

func TestEnsureReadyProbeCache(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	_, err := e.storage().EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)

	s := e.storage()
	for i := 0; i < 3; i++ {
		_, err := s.EnsureReady(context.Background(), false, nil)
		require.NoError(t, err)
		e.clock.Advance(10 * time.Second)
	}

	require.EqualValues(t, 1, e.srv.Heads.Load())
	require.EqualValues(t, 1, e.srv.Gets.Load())

	e.clock.Advance(31 * time.Second)
	_, err = s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, e.srv.Heads.Load())
	require.EqualValues(t, 1, e.srv.Gets.Load())
}

func TestEnsureReadyPrimesProbeCacheAfterRefresh(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	s := e.storage()

	_, err := s.EnsureReady(context.Background(), true, nil)
	require.NoError(t, err)
	_, err = s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)

	require.EqualValues(t, 0, e.srv.Heads.Load())
	require.EqualValues(t, 1, e.srv.Gets.Load())
}

func TestEnsureReadySignatureChanged(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	s := e.storage()

	mods, err := s.Mods(context.Background(), false, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"jei.jar", "create.jar"}, modNames(mods))

	e.srv.SetArchive(testutil.ZipArchive(t, map[string]string{
		"pack-main/mods/jei.jar":     "jei-2",
		"pack-main/mods/sodium.jar":  "sodium",
		"pack-main/mods/notes.txt":   "skip me",
		"pack-main/mods/lib/api.JAR": "api",
	}), `"v2"`)
	e.clock.Advance(61 * time.Second)

	mods, err = s.Mods(context.Background(), false, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"jei.jar", "sodium.jar", "api.JAR"}, modNames(mods))
	require.EqualValues(t, 2, e.srv.Gets.Load())

	ok, err := afero.Exists(e.fs, repoDir+"/pack-main/mods/create.jar")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureReadyProbeFailureFailsOpen(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	_, err := e.storage().EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)

	e.srv.SetHeadStatus(http.StatusServiceUnavailable)
	e.srv.SetArchive(testutil.ZipArchive(t, map[string]string{"pack-main/mods/other.jar": "x"}), `"v2"`)

	s := e.storage()
	mods, err := s.Mods(context.Background(), false, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"jei.jar", "create.jar"}, modNames(mods))
	require.EqualValues(t, 1, e.srv.Gets.Load())
	require.EqualValues(t, 1, e.srv.Heads.Load())

	// Failed probes are not cached.
	_, err = s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, e.srv.Heads.Load())
}

func TestEnsureReadyForce(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	s := e.storage()

	_, err := s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)
	_, err = s.EnsureReady(context.Background(), true, nil)
	require.NoError(t, err)

	require.EqualValues(t, 2, e.srv.Gets.Load())
	require.EqualValues(t, 0, e.srv.Heads.Load())
}

func TestEnsureReadyRootMissing(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	_, err := e.storage().EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)

	require.NoError(t, e.fs.RemoveAll(repoDir+"/pack-main"))

	root, err := e.storage().EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)
	require.Equal(t, repoDir+"/pack-main", root)
	require.EqualValues(t, 2, e.srv.Gets.Load())
}

func TestEnsureReadyNotConfigured(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	e.cfg.ZipURL = ""

	_, err := e.storage().EnsureReady(context.Background(), false, nil)
	require.ErrorIs(t, err, common.ErrRepositoryNotConfigured)

	_, err = e.storage().Mods(context.Background(), false, nil)
	require.ErrorIs(t, err, common.ErrRepositoryNotConfigured)
	require.EqualValues(t, 0, e.srv.Gets.Load())
}

func TestEnsureReadyNetworkError(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	e.srv.SetStatus(http.StatusNotFound)

	_, err := e.storage().EnsureReady(context.Background(), false, nil)
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestEnsureReadySubfolder(t *testing.T) {
	tests := []struct {
		name      string
		subfolder string
		err       error
		root      string
	}{
		{name: "nested", subfolder: "pack-main/mods", root: repoDir + "/pack-main/mods"},
		{name: "missing", subfolder: "pack-main/client", err: common.ErrArchiveLayout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, basicFiles, `"v1"`)
			e.cfg.Subfolder = tt.subfolder

			root, err := e.storage().EnsureReady(context.Background(), false, nil)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.root, root)
		})
	}
}

func TestEnsureReadyFlatArchive(t *testing.T) {
	e := newEnv(t, map[string]string{"jei.jar": "jei"}, `"v1"`)

	_, err := e.storage().EnsureReady(context.Background(), false, nil)
	require.ErrorIs(t, err, common.ErrArchiveLayout)
}

func TestEnsureReadyFallbackSignature(t *testing.T) {
	e := newEnv(t, basicFiles, "")
	s := e.storage()

	_, err := s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)

	m, err := meta.NewFileMetaRepositoryWithFS(e.fs, metaPath, testutil.Logger()).Load(context.Background())
	require.NoError(t, err)
	// The server still sends Content-Length, which is the last header in the chain.
	require.NotEmpty(t, m.Signature)
}

func TestEnsureReadyProgress(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)

	var (
		mu     sync.Mutex
		events []entity.RepoProgress
	)
	l := entity.ListenerFuncs{OnRepo: func(p entity.RepoProgress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	}}

	_, err := e.storage().EnsureReady(context.Background(), false, l)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, entity.RepoScope, last.Scope)
	require.Equal(t, entity.RepoStateExtract, last.State)
	require.Equal(t, float64(100), last.Percent)

	seenDownload := false
	for _, ev := range events {
		require.Equal(t, entity.RepoScope, ev.Scope)
		if ev.State == entity.RepoStateDownload {
			seenDownload = true
		}
	}
	require.True(t, seenDownload)
}

func TestEnsureReadySingleFlight(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)

	release := make(chan struct{})
	e.srv.SetGetHook(func() { <-release })

	s := e.storage()

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.EnsureReady(context.Background(), false, nil)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return e.srv.Gets.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, e.srv.Gets.Load())
}

func TestEnsureReadyCanceled(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.storage().EnsureReady(ctx, false, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 0, e.srv.Gets.Load())
}

func TestModsDuplicates(t *testing.T) {
	e := newEnv(t, map[string]string{
		"repo/a/shared.jar": "first",
		"repo/b/shared.jar": "second",
		"repo/unique.jar":   "u",
		"repo/README.md":    "# readme",
	}, `"v1"`)
	s := e.storage()

	mods, err := s.Mods(context.Background(), false, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"shared.jar", "unique.jar"}, modNames(mods))

	for _, mod := range mods {
		if mod.FileName == "shared.jar" {
			require.Equal(t, "b/shared.jar", mod.RelativePath)
			require.Equal(t, repoDir+"/repo/b/shared.jar", mod.SourcePath)
		}
	}

	// Cached manifest is served without another scan or download.
	again, err := s.Mods(context.Background(), false, nil)
	require.NoError(t, err)
	require.Equal(t, modNames(mods), modNames(again))
	require.EqualValues(t, 1, e.srv.Gets.Load())
}

type unwritableMeta struct {
	MetaRepository
}

func (unwritableMeta) Save(ctx context.Context, meta *entity.RepoMeta) error {
	return fmt.Errorf("%w: cannot write meta file: %w", common.ErrFilesystem, errors.New("read-only file system"))
}

func TestEnsureReadyMetaSaveFails(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	log := testutil.Logger()

	s := NewRepoStorageWithFS(
		e.fs,
		remote.NewRemoteRepository(e.cfg.ZipURL, e.srv.Client(), time.Second, log),
		unwritableMeta{meta.NewFileMetaRepositoryWithFS(e.fs, metaPath, log)},
		zipadapter.NewZipAdapterWithFS(e.fs, log),
		e.cfg,
		repoDir,
		log,
		WithClock(e.clock.Now),
	)

	_, err := s.EnsureReady(context.Background(), false, nil)
	require.ErrorIs(t, err, common.ErrFilesystem)

	_, err = s.Mods(context.Background(), false, nil)
	require.ErrorIs(t, err, common.ErrFilesystem)
	require.EqualValues(t, 2, e.srv.Gets.Load())
}

// blockingFs stalls the first Open of path once armed.
type blockingFs struct {
	afero.Fs
	path     string
	armed    atomic.Bool
	blocked  chan struct{}
	release  chan struct{}
	blockOne sync.Once
}

func (f *blockingFs) Open(name string) (afero.File, error) {
	if f.armed.Load() && name == f.path {
		f.blockOne.Do(func() {
			close(f.blocked)
			<-f.release
		})
	}

	return f.Fs.Open(name)
}

func TestModsDoesNotKeepListingAcrossRefresh(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	fs := &blockingFs{
		Fs:      e.fs,
		path:    repoDir + "/pack-main",
		blocked: make(chan struct{}),
		release: make(chan struct{}),
	}

	log := testutil.Logger()
	s := NewRepoStorageWithFS(
		fs,
		remote.NewRemoteRepository(e.cfg.ZipURL, e.srv.Client(), time.Second, log),
		meta.NewFileMetaRepositoryWithFS(fs, metaPath, log),
		zipadapter.NewZipAdapterWithFS(fs, log),
		e.cfg,
		repoDir,
		log,
		WithClock(e.clock.Now),
	)

	_, err := s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)

	fs.armed.Store(true)

	type result struct {
		mods []*entity.Mod
		err  error
	}
	scanned := make(chan result, 1)
	go func() {
		mods, err := s.Mods(context.Background(), false, nil)
		scanned <- result{mods, err}
	}()

	<-fs.blocked

	e.srv.SetArchive(testutil.ZipArchive(t, map[string]string{
		"pack-main/mods/jei.jar":    "jei",
		"pack-main/mods/create.jar": "create",
		"pack-main/mods/extra.jar":  "extra",
	}), `"v2"`)

	refreshed := make(chan error, 1)
	go func() {
		_, err := s.EnsureReady(context.Background(), true, nil)
		refreshed <- err
	}()

	select {
	case <-refreshed:
		t.Fatal("refresh ran while the manifest scan was in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(fs.release)

	res := <-scanned
	require.NoError(t, res.err)
	require.ElementsMatch(t, []string{"jei.jar", "create.jar"}, modNames(res.mods))
	require.NoError(t, <-refreshed)

	mods, err := s.Mods(context.Background(), false, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"jei.jar", "create.jar", "extra.jar"}, modNames(mods))
}

func TestClean(t *testing.T) {
	e := newEnv(t, basicFiles, `"v1"`)
	s := e.storage()

	_, err := s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)
	require.NoError(t, s.Clean(context.Background()))

	ok, err := afero.DirExists(e.fs, repoDir)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.EnsureReady(context.Background(), false, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, e.srv.Gets.Load())
}
