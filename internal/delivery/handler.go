package delivery

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/user"
)

// Handler serves the deliveries listing stub. The real scheduling and
// tracking backend does not exist yet; the endpoint scopes its answer to the
// caller's role so clients can already integrate against it.
type Handler struct {
	users *user.Repository
}

func NewHandler(users *user.Repository) *Handler {
	return &Handler{users: users}
}

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	requester, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load deliveries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Deliveries for %s", requester.Role),
		"user":    requester.Username,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
