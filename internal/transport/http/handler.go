package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"attempt-service/internal/app"
	"attempt-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the attempt lifecycle over REST. The identity fields are
// trusted as-is: an auth collaborator in front of this service has already
// verified them.
type Handler struct {
	service *app.AttemptService
}

func NewHandler(service *app.AttemptService) *Handler {
	return &Handler{service: service}
}

// Register mounts the attempt routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/quizzes/{quizID}/eligibility", h.checkEligibility)
	r.Post("/quizzes/{quizID}/attempt", h.startAttempt)
	r.Get("/quizzes/{quizID}/submissions", h.listSubmissions)
	r.Post("/attempts/{token}/answers", h.setAnswer)
	r.Post("/attempts/{token}/submit", h.submit)
	r.Delete("/attempts/{token}", h.abandon)
}

type identityRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (r identityRequest) identity() (domain.Identity, bool) {
	if r.UserID == "" || r.Email == "" {
		return domain.Identity{}, false
	}
	return domain.Identity{UserID: r.UserID, Email: r.Email}, true
}

func (h *Handler) checkEligibility(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityRequest{
		UserID: r.URL.Query().Get("userId"),
		Email:  r.URL.Query().Get("email"),
	}.identity()
	if !ok {
		writeError(w, http.StatusBadRequest, "missing userId or email")
		return
	}

	elig, err := h.service.CheckEligibility(r.Context(), identity, chi.URLParam(r, "quizID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity, ok := req.identity()
	if !ok {
		writeError(w, http.StatusBadRequest, "missing userId or email")
		return
	}

	start, err := h.service.StartAttempt(r.Context(), identity, chi.URLParam(r, "quizID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, start)
}

type answerRequest struct {
	Index int `json:"index"`
	Value any `json:"value"`
}

func (h *Handler) setAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.service.SetAnswer(r.Context(), chi.URLParam(r, "token"), req.Index, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Answers []any `json:"answers"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := h.service.Submit(r.Context(), chi.URLParam(r, "token"), req.Answers)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Abandon(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.ListSubmissions(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyAttempted),
		errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrSessionClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAnswer):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDeadlineExceeded):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrEmptyQuiz):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
