package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type registerResponse struct {
	Message string     `json:"message"`
	User    PublicUser `json:"user"`
}

// Routes mounts the auth endpoints on mux. Refresh and logout exist only when the
// service has a token registry.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.Register)
	mux.HandleFunc("POST /auth/login", h.Login)
	if h.service.RefreshEnabled() {
		mux.HandleFunc("POST /auth/refresh", h.Refresh)
		mux.HandleFunc("POST /auth/logout", h.Logout)
	}
	mux.Handle("GET /auth/me", Middleware(h.service, http.HandlerFunc(h.Me)))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeBody(w, r, &body) {
		return
	}

	user, err := h.service.Register(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		var inputErr InputError
		switch {
		case errors.As(err, &inputErr):
			writeError(w, http.StatusBadRequest, inputErr.Reason)
		case errors.Is(err, ErrUserExists):
			writeError(w, http.StatusConflict, "user exists")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to register")
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{Message: "user registered", User: user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeBody(w, r, &body) {
		return
	}

	tokens, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		var (
			inputErr  InputError
			credsErr  InvalidCredentialsError
			lockedErr TooManyAttemptsError
		)
		switch {
		case errors.As(err, &inputErr):
			writeError(w, http.StatusBadRequest, inputErr.Reason)
		case errors.As(err, &credsErr):
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":     "invalid credentials",
				"remaining": credsErr.Remaining,
			})
		case errors.As(err, &lockedErr):
			minutes := lockedErr.MinutesLeft(h.service.Now())
			w.Header().Set("Retry-After", strconv.Itoa(minutes*60))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "too many attempts",
				"minutesLeft": minutes,
			})
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to login")
		}
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeBody(w, r, &body) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeTokenError(w, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.service.Logout(r.Context(), body.RefreshToken); err != nil {
		writeTokenError(w, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	user, err := h.service.Profile(r.Context(), claims.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func writeTokenError(w http.ResponseWriter, err error, fallback string) {
	var inputErr InputError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Reason)
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, ErrTokenNotFound):
		writeError(w, http.StatusUnauthorized, "refresh token not found")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
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
