package zipadapter

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

type zipAdapter struct {
	fs  afero.Fs
	log *slog.Logger
}

func NewZipAdapter(log *slog.Logger) *zipAdapter {
	return NewZipAdapterWithFS(afero.NewOsFs(), log)
}

func NewZipAdapterWithFS(fs afero.Fs, log *slog.Logger) *zipAdapter {
	return &zipAdapter{
		fs:  fs,
		log: log.With(slog.String("item", "ZipAdapter")),
	}
}

/*
Extract unpacks archivePath into destDir.

Returns the name of the first top-level directory of the archive: the first
directory entry if there is one, otherwise the first path component of an
entry that lives in a directory. Empty when the archive is flat.

progress receives processed and total entry counts after each entry.
*/
func (a *zipAdapter) Extract(ctx context.Context, archivePath, destDir string, progress func(processed, total int)) (string, error) {
	f, err := a.fs.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot open archive: %w", common.ErrFilesystem, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			a.log.Error("Cannot close archive", slog.String("path", archivePath), slog.Any("error", err))
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: cannot stat archive: %w", common.ErrFilesystem, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("%w: cannot read archive: %w", common.ErrArchiveLayout, err)
	}

	var (
		topDir      string
		fallbackTop string
		total       = len(zr.File)
	)

	for i, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		name := strings.ReplaceAll(zf.Name, "\\", "/")
		target, err := a.target(destDir, name)
		if err != nil {
			return "", err
		}

		// "./" and friends name the destination itself.
		clean := path.Clean(name)

		switch {
		case clean == ".":
		case zf.FileInfo().IsDir() || strings.HasSuffix(name, "/"):
			if topDir == "" {
				topDir = firstComponent(clean)
			}

			if err := a.fs.MkdirAll(target, dirPerm); err != nil {
				return "", fmt.Errorf("%w: cannot create dir %s: %w", common.ErrFilesystem, target, err)
			}
		default:
			if fallbackTop == "" && strings.Contains(clean, "/") {
				fallbackTop = firstComponent(clean)
			}

			if err := a.extractFile(ctx, zf, target); err != nil {
				return "", err
			}
		}

		if progress != nil {
			progress(i+1, total)
		}
	}

	if topDir == "" {
		topDir = fallbackTop
	}

	a.log.Debug("Archive extracted", slog.String("dest", destDir), slog.Int("entries", total), slog.String("top_dir", topDir))

	return topDir, nil
}

func (a *zipAdapter) target(destDir, name string) (string, error) {
	if name == "" || path.IsAbs(name) || filepath.VolumeName(filepath.FromSlash(name)) != "" {
		return "", fmt.Errorf("%w: illegal entry path %q", common.ErrArchiveLayout, name)
	}

	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: illegal entry path %q", common.ErrArchiveLayout, name)
		}
	}

	return filepath.Join(destDir, filepath.FromSlash(path.Clean(name))), nil
}

func (a *zipAdapter) extractFile(ctx context.Context, zf *zip.File, target string) error {
	if err := a.fs.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("%w: cannot create dir for %s: %w", common.ErrFilesystem, target, err)
	}

	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: cannot open entry %s: %w", common.ErrArchiveLayout, zf.Name, err)
	}
	defer rc.Close()

	out, err := a.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("%w: cannot create %s: %w", common.ErrFilesystem, target, err)
	}

	_, err = io.Copy(out, util.NewContextReader(ctx, rc))
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%w: cannot extract %s: %w", common.ErrFilesystem, zf.Name, err)
	}

	return nil
}

func firstComponent(name string) string {
	name = strings.TrimPrefix(name, "/")
	if idx := strings.Index(name, "/"); idx >= 0 {
		return name[:idx]
	}

	return name
}
