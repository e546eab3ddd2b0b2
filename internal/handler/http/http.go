package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/events"
	"github.com/jgivc/modsync/internal/util"
)

const errorHeader = "X-Modsync-Error"

type ModService interface {
	Statuses(ctx context.Context) ([]*entity.ModStatus, error)
	Sync(ctx context.Context, opts entity.SyncOptions) ([]*entity.ModStatus, error)
	InstallMod(ctx context.Context, fileName string, l entity.ProgressListener) ([]*entity.ModStatus, error)
	DeleteMod(ctx context.Context, fileName string) ([]*entity.ModStatus, error)
	DeleteAllMods(ctx context.Context) ([]*entity.ModStatus, error)
}

type NotesService interface {
	Notes(ctx context.Context) (*entity.RepoNotes, error)
}

type EventSource interface {
	Subscribe() chan events.Event
	Unsubscribe(ch chan events.Event)
}

func NewStatusHandler(srv ModService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "StatusHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := srv.Statuses(r.Context())
		writeStatuses(w, log, statuses, err)
	}
}

// NewSyncHandler runs a sync. Progress goes to l, usually the SSE broadcaster.
func NewSyncHandler(srv ModService, l entity.ProgressListener, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "SyncHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		force := false
		if v := r.URL.Query().Get("force"); v != "" {
			f, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "Bad request", http.StatusBadRequest)

				return
			}
			force = f
		}

		statuses, err := srv.Sync(r.Context(), entity.SyncOptions{Force: force, Listener: l})
		writeStatuses(w, log, statuses, err)
	}
}

func NewInstallHandler(srv ModService, l entity.ProgressListener, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "InstallHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		fileName, ok := fileParam(r)
		if !ok {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		statuses, err := srv.InstallMod(r.Context(), fileName, l)
		writeStatuses(w, log, statuses, err)
	}
}

func NewDeleteHandler(srv ModService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "DeleteHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		fileName, ok := fileParam(r)
		if !ok {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		statuses, err := srv.DeleteMod(r.Context(), fileName)
		writeStatuses(w, log, statuses, err)
	}
}

func NewDeleteAllHandler(srv ModService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "DeleteAllHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := srv.DeleteAllMods(r.Context())
		writeStatuses(w, log, statuses, err)
	}
}

func NewNotesHandler(srv NotesService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "NotesHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		notes, err := srv.Notes(r.Context())
		if err != nil {
			log.Error("Cannot get notes", slog.Any("error", err))
			http.Error(w, common.Describe(err), statusCode(err))

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(notes.HTML))
	}
}

// NewEventsHandler streams progress events as Server-Sent Events. The event
// name is the event type, the data is the progress payload.
func NewEventsHandler(src EventSource, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "EventsHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := src.Subscribe()
		defer src.Unsubscribe(ch)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}

				data, err := events.MarshalData(event)
				if err != nil {
					log.Error("Cannot marshal event", slog.Any("error", err))

					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
				flusher.Flush()
			}
		}
	}
}

func fileParam(r *http.Request) (string, bool) {
	fileName := r.PathValue("file")
	if fileName == "" || util.SafeBaseName(fileName) != fileName {
		return "", false
	}

	return fileName, true
}

// writeStatuses answers with the statuses list. A partial sync still carries
// the statuses, with 207 and the error text in a header.
func writeStatuses(w http.ResponseWriter, log *slog.Logger, statuses []*entity.ModStatus, err error) {
	if err != nil {
		if !errors.Is(err, common.ErrPartialSync) || statuses == nil {
			log.Error("Request failed", slog.Any("error", err))
			http.Error(w, common.Describe(err), statusCode(err))

			return
		}

		log.Warn("Partial sync", slog.Any("error", err))
		w.Header().Set(errorHeader, common.Describe(err))
		writeJSON(w, log, http.StatusMultiStatus, statuses)

		return
	}

	if statuses == nil {
		statuses = []*entity.ModStatus{}
	}

	writeJSON(w, log, http.StatusOK, statuses)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Cannot encode response", slog.Any("error", err))
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, common.ErrModNotFound), errors.Is(err, common.ErrNotesNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrRepositoryNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrNetwork), errors.Is(err, common.ErrArchiveLayout):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}

	return http.StatusInternalServerError
}
