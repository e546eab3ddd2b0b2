// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ZipArchive builds an archive with an explicit directory entry for every parent
// directory, the way most archivers write them. Keys ending with "/" are
// written as empty directories.
func ZipArchive(t testing.TB, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	dirs := make(map[string]struct{})

	addDir := func(dir string) {
		if _, ok := dirs[dir]; ok {
			return
		}
		dirs[dir] = struct{}{}
		_, err := zw.Create(dir)
		require.NoError(t, err)
	}

	for _, name := range names {
		parts := strings.Split(strings.TrimSuffix(name, "/"), "/")
		for i := 1; i < len(parts); i++ {
			addDir(strings.Join(parts[:i], "/") + "/")
		}

		if strings.HasSuffix(name, "/") {
			addDir(name)

			continue
		}

		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// ArchiveServer serves a zip archive and counts HEAD and GET requests.
type ArchiveServer struct {
	*httptest.Server

	mu         sync.Mutex
	archive    []byte
	etag       string
	status     int
	headStatus int

	getHook func()

	Heads atomic.Int32
	Gets  atomic.Int32
}

func NewArchiveServer(t testing.TB, archive []byte, etag string) *ArchiveServer {
	s := &ArchiveServer{archive: archive, etag: etag}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	return s
}

func (s *ArchiveServer) URL() string {
	return s.Server.URL + "/mods.zip"
}

func (s *ArchiveServer) SetArchive(archive []byte, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.archive = archive
	s.etag = etag
}

// SetGetHook installs fn to run before a GET body is written.
func (s *ArchiveServer) SetGetHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getHook = fn
}

// SetStatus forces every request to fail with status. Zero restores normal behaviour.
func (s *ArchiveServer) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
}

// SetHeadStatus forces only HEAD requests to fail with status.
func (s *ArchiveServer) SetHeadStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.headStatus = status
}

func (s *ArchiveServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	archive, etag, status, headStatus, getHook := s.archive, s.etag, s.status, s.headStatus, s.getHook
	s.mu.Unlock()

	if r.Method == http.MethodHead {
		s.Heads.Add(1)
		if headStatus != 0 {
			w.WriteHeader(headStatus)

			return
		}
	} else {
		s.Gets.Add(1)
	}

	if status != 0 {
		w.WriteHeader(status)

		return
	}

	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))

	if r.Method == http.MethodHead {
		return
	}

	if getHook != nil {
		getHook()
	}

	w.Write(archive)
}
