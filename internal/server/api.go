package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/lingua-live/internal/session"
	"github.com/sjawhar/lingua-live/internal/tutor"
)

// Controller is the session surface the API drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ActivateMic() error
	DeactivateMic() error
	SendText(ctx context.Context, text string) error
	Snapshot() session.Snapshot
}

type textRequest struct {
	Text string `json:"text"`
}

func registerAPIRoutes(mux *http.ServeMux, ctl Controller, warnings func() []string, log logrus.FieldLogger) {
	mux.HandleFunc("POST /api/connect", func(w http.ResponseWriter, r *http.Request) {
		// The attempt outlives the request; Disconnect cancels it.
		if err := ctl.Connect(context.WithoutCancel(r.Context())); err != nil {
			writeSessionError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("POST /api/disconnect", func(w http.ResponseWriter, r *http.Request) {
		if err := ctl.Disconnect(r.Context()); err != nil {
			writeSessionError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("POST /api/mic/activate", func(w http.ResponseWriter, r *http.Request) {
		if err := ctl.ActivateMic(); err != nil {
			writeSessionError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("POST /api/mic/deactivate", func(w http.ResponseWriter, r *http.Request) {
		if err := ctl.DeactivateMic(); err != nil {
			writeSessionError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("POST /api/text", func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		if err := ctl.SendText(r.Context(), req.Text); err != nil {
			writeSessionError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var list []string
		if warnings != nil {
			list = warnings()
		}
		if list == nil {
			list = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":  ctl.Snapshot(),
			"warnings": list,
		})
	})

	mux.HandleFunc("GET /api/catalog", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"languages": tutor.Languages(),
			"scenarios": tutor.Scenarios(),
		})
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyActive),
		errors.Is(err, session.ErrConnectCanceled),
		errors.Is(err, session.ErrNoStream):
		return http.StatusConflict
	case session.IsKind(err, session.KindConfiguration):
		return http.StatusPreconditionFailed
	case session.IsKind(err, session.KindDevice):
		return http.StatusFailedDependency
	case session.IsKind(err, session.KindTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeSessionError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := statusForError(err)
	msg := err.Error()
	var serr *session.Error
	if errors.As(err, &serr) {
		msg = serr.Message
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Warn("session request failed")
	}
	writeJSONError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
