package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/spf13/afero"
)

type fileMetaRepository struct {
	fs   afero.Fs
	path string
	log  *slog.Logger
}

func NewFileMetaRepository(path string, log *slog.Logger) *fileMetaRepository {
	return NewFileMetaRepositoryWithFS(afero.NewOsFs(), path, log)
}

func NewFileMetaRepositoryWithFS(fs afero.Fs, path string, log *slog.Logger) *fileMetaRepository {
	return &fileMetaRepository{
		fs:   fs,
		path: path,
		log:  log.With(slog.String("item", "FileMetaRepository")),
	}
}

// Load returns nil without error when there is no usable meta file.
func (r *fileMetaRepository) Load(ctx context.Context) (*entity.RepoMeta, error) {
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: cannot read meta file: %w", common.ErrFilesystem, err)
	}

	var meta entity.RepoMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		r.log.Warn("Meta file is corrupted, ignore it", slog.String("path", r.path), slog.Any("error", err))

		return nil, nil
	}

	return &meta, nil
}

func (r *fileMetaRepository) Save(ctx context.Context, meta *entity.RepoMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal meta: %w", err)
	}

	if err := r.fs.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("%w: cannot create meta dir: %w", common.ErrFilesystem, err)
	}

	if err := afero.WriteFile(r.fs, r.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: cannot write meta file: %w", common.ErrFilesystem, err)
	}

	return nil
}
