package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"delivery-backend/internal/observability"
	"delivery-backend/internal/security"
)

// CleanupHandler drops stale lockout bookkeeping on a cron trigger. Without
// it the in-memory store grows with every username ever failed against.
type CleanupHandler struct {
	lockout    security.LockoutStore
	logger     *observability.Logger
	cronSecret string
	retention  time.Duration
}

func NewCleanupHandler(lockout security.LockoutStore, logger *observability.Logger, cronSecret string, retention time.Duration) *CleanupHandler {
	return &CleanupHandler{
		lockout:    lockout,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	purged, err := h.lockout.PurgeStale(r.Context(), h.retention)
	if err != nil {
		h.logger.Error("lockout_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("lockout_cleanup_completed", map[string]any{
		"purged_lockout_records": purged,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "ok",
		"purged_lockout_records": purged,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
