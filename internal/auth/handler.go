package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"delivery-backend/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	role, ok := ParseRole(body.Role)
	if !ok {
		writeValidationError(w, ValidationError{Field: "role", Reasons: []string{"role must be one of developer, store_owner, driver"}})
		return
	}

	user, err := h.service.Register(r.Context(), body.Username, body.Email, body.Password, role)
	if err != nil {
		var validationErr ValidationError
		if errors.As(err, &validationErr) {
			writeValidationError(w, validationErr)
			return
		}
		var conflictErr ConflictError
		if errors.As(err, &conflictErr) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": conflictErr.Error(),
				"field": conflictErr.Field,
			})
			return
		}

		sentry.CaptureException(err)
		h.logger.Error("register_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	h.logger.Info("user_registered", map[string]any{
		"username": user.Username,
		"role":     string(user.Role),
	})
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		ip := observability.ClientIP(r)
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.logger.Warn("login_failed", map[string]any{"ip": ip})
			writeError(w, http.StatusUnauthorized, "incorrect username or password")
		case errors.Is(err, ErrInactiveAccount):
			h.logger.Warn("login_inactive_account", map[string]any{"ip": ip})
			writeError(w, http.StatusForbidden, "inactive user")
		default:
			var lockedErr ErrLoginLocked
			if errors.As(err, &lockedErr) {
				retryAfter := int(time.Until(lockedErr.Until).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				h.logger.Warn("login_locked_account", map[string]any{"ip": ip})
				writeError(w, http.StatusLocked, "account temporarily locked due to too many failed attempts")
				return
			}

			sentry.CaptureException(err)
			h.logger.Error("login_failed", map[string]any{"error": err.Error(), "ip": ip})
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	h.logger.Info("login_succeeded", map[string]any{
		"username": result.User.Username,
		"ip":       observability.ClientIP(r),
	})
	writeJSON(w, http.StatusOK, result)
}

// Logout acknowledges the request. Tokens are self-contained, so the server
// holds no session to invalidate; clients discard the token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("user_logout", map[string]any{"ip": observability.ClientIP(r)})
	writeJSON(w, http.StatusOK, map[string]string{"message": "successfully logged out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), username, body.CurrentPassword, body.NewPassword); err != nil {
		switch {
		case errors.Is(err, ErrWrongPassword):
			writeError(w, http.StatusBadRequest, "current password is incorrect")
		case errors.Is(err, ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "unauthenticated")
		default:
			var validationErr ValidationError
			if errors.As(err, &validationErr) {
				writeValidationError(w, validationErr)
				return
			}

			sentry.CaptureException(err)
			h.logger.Error("change_password_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "password change failed")
		}
		return
	}

	h.logger.Info("password_changed", map[string]any{"username": username})
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed successfully"})
}

func (h *Handler) SecurityStatus(w http.ResponseWriter, r *http.Request) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	status, err := h.service.SecurityStatus(r.Context(), username)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load security status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeValidationError(w http.ResponseWriter, err ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation failed",
		"field":   err.Field,
		"reasons": err.Reasons,
	})
}
