package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jgivc/modsync/internal/adapter/mdadapter"
	"github.com/jgivc/modsync/internal/adapter/procadapter"
	"github.com/jgivc/modsync/internal/adapter/zipadapter"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/events"
	httphandler "github.com/jgivc/modsync/internal/handler/http"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/repository/meta"
	"github.com/jgivc/modsync/internal/repository/remote"
	"github.com/jgivc/modsync/internal/service/forge"
	"github.com/jgivc/modsync/internal/service/launch"
	"github.com/jgivc/modsync/internal/service/mods"
	"github.com/jgivc/modsync/internal/storage/repo"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type ModService interface {
	httphandler.Service
}

type RepoStorage interface {
	EnsureReady(ctx context.Context, force bool, l entity.ProgressListener) (string, error)
	Mods(ctx context.Context, force bool, l entity.ProgressListener) ([]*entity.Mod, error)
	Clean(ctx context.Context) error
}

type Launcher interface {
	Launch(ctx context.Context, req launch.Request, l entity.ProgressListener, onLog func(string)) error
}

type Publisher interface {
	entity.ProgressListener
	Close()
}

type App struct {
	cfg *config.Config
	log *slog.Logger

	rdb         *redis.Client
	repo        RepoStorage
	mods        ModService
	launcher    Launcher
	broadcaster *events.Broadcaster
	publisher   Publisher
}

func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	return slog.New(slog.NewTextHandler(w, lo)), nil
}

// New wires every component from cfg. Close must be called when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cannot parse redis url: %w", err)
		}

		a.rdb = redis.NewClient(opt)

		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := a.rdb.Ping(pctx).Err(); err != nil {
			a.rdb.Close()

			return nil, fmt.Errorf("cannot connect to redis: %w", err)
		}
	}

	fs := afero.NewOsFs()
	cl := remote.NewHTTPClient(cfg.Repo.DialTimeout)

	var metaRepo repo.MetaRepository
	if cfg.Repo.MetaStore == config.MetaStoreRedis {
		metaRepo = meta.NewRedisMetaRepository(a.rdb, cfg.Repo.ZipURL, log)
	} else {
		metaRepo = meta.NewFileMetaRepositoryWithFS(fs, cfg.MetaPath(), log)
	}

	storage := repo.NewRepoStorageWithFS(
		fs,
		remote.NewRemoteRepository(cfg.Repo.ZipURL, cl, cfg.Repo.ProbeTimeout, log),
		metaRepo,
		zipadapter.NewZipAdapterWithFS(fs, log),
		&cfg.Repo,
		cfg.RepoDir(),
		log,
	)

	notes, err := mdadapter.NewNotesRenderer("", log)
	if err != nil {
		return nil, err
	}

	policy, err := mods.ParseFailurePolicy(cfg.Sync.FailurePolicy)
	if err != nil {
		return nil, err
	}

	modSrv := mods.NewModServiceWithFS(fs, storage, notes, mods.Config{
		ModsDir:   cfg.ModsDir(),
		NotesFile: cfg.Repo.NotesFile,
		Policy:    policy,
	}, log)
	a.repo = storage
	a.mods = modSrv

	a.broadcaster = events.NewBroadcaster()
	if cfg.Events.RedisChannel != "" {
		publisher := events.NewRedisPublisher(a.rdb, cfg.Events.RedisChannel, log)
		publisher.Start(ctx)
		a.publisher = publisher
	}

	runner := procadapter.NewProcAdapter(log)
	forgeSrv := forge.NewForgeServiceWithFS(
		fs,
		&cfg.Forge,
		cfg.Java.Executable,
		cfg.ForgeDir(),
		remote.NewRemoteRepository(cfg.Forge.InstallerURL, cl, cfg.Repo.ProbeTimeout, log),
		runner,
		log,
	)
	a.launcher = launch.NewLaunchServiceWithFS(fs, cfg, modSrv, forgeSrv, runner, log)

	return a, nil
}

func (a *App) Log() *slog.Logger {
	return a.log
}

func (a *App) Mods() ModService {
	return a.mods
}

func (a *App) Repo() RepoStorage {
	return a.repo
}

func (a *App) Launcher() Launcher {
	return a.launcher
}

// Listener returns the sinks every progress event goes to, plus extra.
func (a *App) Listener(extra ...entity.ProgressListener) entity.ProgressListener {
	ls := entity.Listeners{a.broadcaster}
	if a.publisher != nil {
		ls = append(ls, a.publisher)
	}

	return append(ls, extra...)
}

// Serve runs the control API and the metrics endpoint until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	httphandler.Register(mux, a.mods, a.broadcaster, a.Listener(), a.log)

	base := func(net.Listener) context.Context { return ctx }
	servers := []*http.Server{{Addr: a.cfg.Listen, Handler: mux, BaseContext: base}}

	if a.cfg.MetricsListen != "" {
		mmux := http.NewServeMux()
		mmux.Handle("GET /metrics", metrics.Handler())
		servers = append(servers, &http.Server{Addr: a.cfg.MetricsListen, Handler: mmux, BaseContext: base})
	} else {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			a.log.Info("Start listen", slog.String("addr", srv.Addr))

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Could not serve", slog.String("listen_addr", srv.Addr), slog.Any("error", err))
				errCh <- err
			}
		}(srv)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		srv.Shutdown(sctx)
	}

	return err
}

func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("Cannot close redis client", slog.Any("error", err))
		}
	}
}
