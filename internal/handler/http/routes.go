package httphandler

import (
	"log/slog"
	"net/http"

	"github.com/jgivc/modsync/internal/entity"
)

type Service interface {
	ModService
	NotesService
}

// Register mounts the control API on mux. l receives progress of syncs and
// installs started over HTTP; events streams whatever src publishes.
func Register(mux *http.ServeMux, srv Service, src EventSource, l entity.ProgressListener, log *slog.Logger) {
	mux.Handle("GET /mods", NewStatusHandler(srv, log))
	mux.Handle("DELETE /mods", NewDeleteAllHandler(srv, log))
	mux.Handle("POST /mods/sync", NewSyncHandler(srv, l, log))
	mux.Handle("POST /mods/{file}/install", NewInstallHandler(srv, l, log))
	mux.Handle("DELETE /mods/{file}", NewDeleteHandler(srv, log))
	mux.Handle("GET /repo/notes", NewNotesHandler(srv, log))
	mux.Handle("GET /events", NewEventsHandler(src, log))
}
