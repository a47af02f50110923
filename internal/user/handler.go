package user

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"delivery-backend/internal/auth"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListUsers is restricted to the developer role.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	if requester.Role != auth.RoleDeveloper {
		writeError(w, http.StatusForbidden, "not enough permissions")
		return
	}

	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	users, err := h.repo.List(r.Context(), skip, limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// GetUser returns a single user; developers may read anyone, everyone else
// only themselves.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if requester.Role != auth.RoleDeveloper && requester.ID != id {
		writeError(w, http.StatusForbidden, "not enough permissions")
		return
	}

	target, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, target)
}

func (h *Handler) requester(w http.ResponseWriter, r *http.Request) (auth.PublicUser, bool) {
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return auth.PublicUser{}, false
	}

	requester, err := h.repo.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return auth.PublicUser{}, false
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return auth.PublicUser{}, false
	}

	return requester, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}

	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
