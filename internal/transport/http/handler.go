package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"jlpt-exam-service/internal/domain"
)

// UserHeader carries the caller identity resolved by the upstream auth layer.
const UserHeader = "X-User-ID"

// ExamService is the set of use cases the HTTP layer exposes.
type ExamService interface {
	StartOrResume(ctx context.Context, userID, testID string) (domain.SessionView, error)
	ListQuestions(ctx context.Context, userID, testID string, section domain.Section) ([]domain.QuestionView, error)
	SubmitAnswer(ctx context.Context, userID, testID, questionID, optionID string) (domain.CurrentAnswer, error)
	Submit(ctx context.Context, userID, testID string) (domain.Result, error)
	GetCurrentResult(ctx context.Context, userID, testID string) (domain.Result, error)
	GetHistory(ctx context.Context, userID, testID string) ([]domain.AttemptSummary, error)
	GetAttemptDetail(ctx context.Context, attemptID, userID string) (domain.Attempt, error)
	GetActiveCount(ctx context.Context, testID string) (int, error)
}

type Handler struct {
	service ExamService
}

func NewHandler(service ExamService) *Handler {
	return &Handler{service: service}
}

// Routes mounts the REST endpoints. Every route except the participant count requires UserHeader.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tests/{testID}/participants", h.activeCount)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/tests/{testID}/session", h.startOrResume)
		r.Get("/tests/{testID}/questions", h.listQuestions)
		r.Put("/tests/{testID}/answers/{questionID}", h.submitAnswer)
		r.Post("/tests/{testID}/submit", h.submit)
		r.Get("/tests/{testID}/result", h.currentResult)
		r.Get("/tests/{testID}/attempts", h.history)
		r.Get("/attempts/{attemptID}", h.attemptDetail)
	})
}

// NewRouter builds the full router with health check, REST API and the websocket stream.
func NewRouter(h *Handler, ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if ws != nil {
		r.Get("/ws/participants", ws.ServeWS)
	}
	r.Route("/api/v1", h.Routes)
	return r
}

type ctxKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(ctxKey{}).(string)
	return userID
}

func (h *Handler) startOrResume(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.StartOrResume(r.Context(), userFrom(r), chi.URLParam(r, "testID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, view)
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	var section domain.Section
	if raw := r.URL.Query().Get("section"); raw != "" {
		s, ok := domain.ParseSection(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown section")
			return
		}
		section = s
	}
	questions, err := h.service.ListQuestions(r.Context(), userFrom(r), chi.URLParam(r, "testID"), section)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

type answerRequest struct {
	OptionID string `json:"optionId"`
}

type answerResponse struct {
	QuestionID       string    `json:"questionId"`
	SelectedOptionID string    `json:"selectedOptionId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OptionID == "" {
		writeError(w, http.StatusBadRequest, "invalid answer payload")
		return
	}
	answer, err := h.service.SubmitAnswer(r.Context(), userFrom(r), chi.URLParam(r, "testID"), chi.URLParam(r, "questionID"), req.OptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{
		QuestionID:       answer.QuestionID,
		SelectedOptionID: answer.SelectedOptionID,
		UpdatedAt:        answer.UpdatedAt,
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Submit(r.Context(), userFrom(r), chi.URLParam(r, "testID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) currentResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GetCurrentResult(r.Context(), userFrom(r), chi.URLParam(r, "testID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.service.GetHistory(r.Context(), userFrom(r), chi.URLParam(r, "testID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) attemptDetail(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.service.GetAttemptDetail(r.Context(), chi.URLParam(r, "attemptID"), userFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

type countResponse struct {
	TestID string `json:"testId"`
	Active int    `json:"active"`
}

func (h *Handler) activeCount(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	n, err := h.service.GetActiveCount(r.Context(), testID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{TestID: testID, Active: n})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("requestID", middleware.GetReqID(r.Context())).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidOption):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoActiveSession), errors.Is(err, domain.ErrSessionExpired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransactionFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorPayload struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorPayload{Message: message})
}
