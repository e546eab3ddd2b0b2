package httphandler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/events"
	"github.com/jgivc/modsync/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type serviceMock struct {
	mock.Mock
}

func statusesArg(args mock.Arguments) []*entity.ModStatus {
	if st, ok := args.Get(0).([]*entity.ModStatus); ok {
		return st
	}

	return nil
}

func (m *serviceMock) Statuses(ctx context.Context) ([]*entity.ModStatus, error) {
	args := m.Called()

	return statusesArg(args), args.Error(1)
}

func (m *serviceMock) Sync(ctx context.Context, opts entity.SyncOptions) ([]*entity.ModStatus, error) {
	args := m.Called(opts.Force)

	if opts.Listener != nil {
		opts.Listener.ModProgress(entity.ModProgress{FileName: "a.jar", Name: "a.jar", State: entity.ModStateDone, Percent: 100})
	}

	return statusesArg(args), args.Error(1)
}

func (m *serviceMock) InstallMod(ctx context.Context, fileName string, l entity.ProgressListener) ([]*entity.ModStatus, error) {
	args := m.Called(fileName)

	return statusesArg(args), args.Error(1)
}

func (m *serviceMock) DeleteMod(ctx context.Context, fileName string) ([]*entity.ModStatus, error) {
	args := m.Called(fileName)

	return statusesArg(args), args.Error(1)
}

func (m *serviceMock) DeleteAllMods(ctx context.Context) ([]*entity.ModStatus, error) {
	args := m.Called()

	return statusesArg(args), args.Error(1)
}

func (m *serviceMock) Notes(ctx context.Context) (*entity.RepoNotes, error) {
	args := m.Called()

	notes, _ := args.Get(0).(*entity.RepoNotes)

	return notes, args.Error(1)
}

var sample = []*entity.ModStatus{
	{Name: "a.jar", FileName: "a.jar", Installed: true},
	{Name: "b.jar", FileName: "b.jar"},
}

func newServer(t *testing.T, srv *serviceMock, b *events.Broadcaster) *httptest.Server {
	mux := http.NewServeMux()
	Register(mux, srv, b, b, testutil.Logger())

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestHandlers(t *testing.T) {
	partial := fmt.Errorf("%w: b.jar: disk full", common.ErrPartialSync)

	tests := []struct {
		name     string
		method   string
		path     string
		setup    func(m *serviceMock)
		wantCode int
		wantBody []*entity.ModStatus
	}{
		{
			name:     "status",
			method:   http.MethodGet,
			path:     "/mods",
			setup:    func(m *serviceMock) { m.On("Statuses").Return(sample, nil) },
			wantCode: http.StatusOK,
			wantBody: sample,
		},
		{
			name:     "sync",
			method:   http.MethodPost,
			path:     "/mods/sync",
			setup:    func(m *serviceMock) { m.On("Sync", false).Return(sample, nil) },
			wantCode: http.StatusOK,
			wantBody: sample,
		},
		{
			name:     "forced sync",
			method:   http.MethodPost,
			path:     "/mods/sync?force=true",
			setup:    func(m *serviceMock) { m.On("Sync", true).Return(sample, nil) },
			wantCode: http.StatusOK,
			wantBody: sample,
		},
		{
			name:     "bad force",
			method:   http.MethodPost,
			path:     "/mods/sync?force=maybe",
			setup:    func(m *serviceMock) {},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "partial sync",
			method:   http.MethodPost,
			path:     "/mods/sync",
			setup:    func(m *serviceMock) { m.On("Sync", false).Return(sample, partial) },
			wantCode: http.StatusMultiStatus,
			wantBody: sample,
		},
		{
			name:     "not configured",
			method:   http.MethodPost,
			path:     "/mods/sync",
			setup:    func(m *serviceMock) { m.On("Sync", false).Return(nil, common.ErrRepositoryNotConfigured) },
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "install",
			method:   http.MethodPost,
			path:     "/mods/b.jar/install",
			setup:    func(m *serviceMock) { m.On("InstallMod", "b.jar").Return(sample, nil) },
			wantCode: http.StatusOK,
			wantBody: sample,
		},
		{
			name:     "install missing",
			method:   http.MethodPost,
			path:     "/mods/missing.jar/install",
			setup:    func(m *serviceMock) { m.On("InstallMod", "missing.jar").Return(nil, common.ErrModNotFound) },
			wantCode: http.StatusNotFound,
		},
		{
			name:     "install network",
			method:   http.MethodPost,
			path:     "/mods/a.jar/install",
			setup:    func(m *serviceMock) { m.On("InstallMod", "a.jar").Return(nil, common.ErrNetwork) },
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "delete",
			method:   http.MethodDelete,
			path:     "/mods/a.jar",
			setup:    func(m *serviceMock) { m.On("DeleteMod", "a.jar").Return(sample, nil) },
			wantCode: http.StatusOK,
			wantBody: sample,
		},
		{
			name:     "delete all",
			method:   http.MethodDelete,
			path:     "/mods",
			setup:    func(m *serviceMock) { m.On("DeleteAllMods").Return([]*entity.ModStatus{}, nil) },
			wantCode: http.StatusOK,
			wantBody: []*entity.ModStatus{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &serviceMock{}
			tt.setup(m)
			ts := newServer(t, m, events.NewBroadcaster())

			resp := do(t, tt.method, ts.URL+tt.path)
			require.Equal(t, tt.wantCode, resp.StatusCode)

			if tt.wantBody != nil {
				var got []*entity.ModStatus
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				require.Equal(t, tt.wantBody, got)
			}

			if tt.wantCode == http.StatusMultiStatus {
				require.Contains(t, resp.Header.Get(errorHeader), "disk full")
			}

			m.AssertExpectations(t)
		})
	}
}

func TestFileParamRejectsPaths(t *testing.T) {
	m := &serviceMock{}
	h := NewDeleteHandler(m, testutil.Logger())

	for _, name := range []string{"../config.json", "sub/a.jar", ".."} {
		r := httptest.NewRequest(http.MethodDelete, "/mods/x", nil)
		r.SetPathValue("file", name)
		w := httptest.NewRecorder()

		h(w, r)
		require.Equal(t, http.StatusBadRequest, w.Code, name)
	}

	m.AssertNotCalled(t, "DeleteMod", mock.Anything)
}

func TestNotesHandler(t *testing.T) {
	m := &serviceMock{}
	m.On("Notes").Return(&entity.RepoNotes{HTML: "<h1>Pack</h1>"}, nil).Once()
	m.On("Notes").Return(nil, common.ErrNotesNotFound).Once()
	ts := newServer(t, m, events.NewBroadcaster())

	resp := do(t, http.MethodGet, ts.URL+"/repo/notes")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = do(t, http.MethodGet, ts.URL+"/repo/notes")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsHandler(t *testing.T) {
	m := &serviceMock{}
	m.On("Sync", false).Return(sample, nil)

	b := events.NewBroadcaster()
	ts := newServer(t, m, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 10*time.Millisecond)

	do(t, http.MethodPost, ts.URL+"/mods/sync")

	lines := make(chan string)
	go func() {
		s := bufio.NewScanner(resp.Body)
		for s.Scan() {
			if line := s.Text(); line != "" {
				lines <- line
			}
		}
		close(lines)
	}()

	var got []string
	for len(got) < 2 {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	require.Equal(t, "event: mod", got[0])
	require.True(t, strings.HasPrefix(got[1], "data: "))
	require.JSONEq(t, `{"fileName":"a.jar","name":"a.jar","state":"done","percent":100}`, strings.TrimPrefix(got[1], "data: "))
}
