package api

import (
	"errors"
	"net/http"

	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/session"
)

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	sessions, err := deps.Sessions.ListSessions(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_LIST_FAILED", "failed to list sessions", true, map[string]any{"details": err.Error()})
		return
	}

	summaries := make([]session.Summary, 0, len(sessions))
	for _, item := range sessions {
		summaries = append(summaries, item.Summarize())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	item, err := deps.Sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_GET_FAILED", "failed to load session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, item)
}
