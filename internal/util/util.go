package util

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const JarExt = ".jar"

func GetIDFromString(str *string) string {
	hasher := sha1.New()
	hasher.Write([]byte(*str))

	return hex.EncodeToString(hasher.Sum(nil))
}

func IsJar(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), JarExt)
}

// SafeBaseName strips any directory part from name. Returns "" for names
// that do not point to a file.
func SafeBaseName(name string) string {
	base := filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	switch base {
	case ".", "..", "/", `\`:
		return ""
	}

	return base
}

func Percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}

	p := float64(done) * 100 / float64(total)
	if p > 100 {
		return 100
	}

	return p
}

func FileExists(fs afero.Fs, path string) bool {
	if path == "" {
		return false
	}

	info, err := fs.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}

func DirExists(fs afero.Fs, path string) bool {
	if path == "" {
		return false
	}

	ok, err := afero.DirExists(fs, path)

	return err == nil && ok
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

// NewContextReader returns a reader that fails with ctx.Err() once ctx is done.
func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	return r.r.Read(p)
}

// ProgressWriter counts written bytes and reports the running total.
type ProgressWriter struct {
	W       io.Writer
	Written int64
	OnWrite func(written int64)
}

func (w *ProgressWriter) Write(p []byte) (int, error) {
	n, err := w.W.Write(p)
	w.Written += int64(n)
	if w.OnWrite != nil && n > 0 {
		w.OnWrite(w.Written)
	}

	return n, err
}

// PercentThrottle forwards a percent value only when its integer part grows
// or when it reaches 100.
func PercentThrottle(fn func(percent float64)) func(percent float64) {
	last := -1

	return func(percent float64) {
		cur := int(percent)
		if cur <= last && percent < 100 {
			return
		}
		if cur == last && last == 100 {
			return
		}

		last = cur
		fn(percent)
	}
}
