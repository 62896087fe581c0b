package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/amann-codes/quizbud/internal/app"
	"github.com/amann-codes/quizbud/internal/domain"
)

// Handler exposes the REST surface: quiz registration, test lifecycle, and
// the action ingestion endpoint that feeds the reconciliation transaction.
type Handler struct {
	service *app.TestService
	now     func() time.Time
}

func NewHandler(service *app.TestService) *Handler {
	return &Handler{service: service, now: time.Now}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quizzes", h.createQuiz)
	mux.HandleFunc("POST /api/tests", h.createTest)
	mux.HandleFunc("POST /api/tests/{id}/start", h.startTest)
	mux.HandleFunc("POST /api/tests/{id}/actions", h.ingestActions)
	mux.HandleFunc("GET /api/tests/{id}", h.getTest)
	mux.HandleFunc("GET /api/tests/{id}/result", h.getResult)
}

// testView is the snapshot representation returned to clients, with the
// derived remaining time attached.
type testView struct {
	domain.Test
	RemainingSec *int64 `json:"remainingSec,omitempty"`
}

// ingestView is the compact ingestion response; the full snapshot is
// available via GET or the watch stream.
type ingestView struct {
	TestID       string            `json:"testId"`
	Status       domain.TestStatus `json:"status"`
	CurrentIndex int               `json:"currentIndex"`
	RemainingSec *int64            `json:"remainingSec,omitempty"`
}

func (h *Handler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz domain.Quiz
	if err := json.NewDecoder(r.Body).Decode(&quiz); err != nil {
		writeError(w, domain.ErrInvalidQuiz)
		return
	}
	created, err := h.service.CreateQuiz(r.Context(), quiz)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": created.ID})
}

func (h *Handler) createTest(w http.ResponseWriter, r *http.Request) {
	// The user id comes from the identity collaborator upstream; it is
	// already verified and trusted here.
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}
	var body struct {
		QuizID string `json:"quizId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.QuizID == "" {
		http.Error(w, "quizId is required", http.StatusBadRequest)
		return
	}
	test, err := h.service.CreateTest(r.Context(), body.QuizID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(test))
}

func (h *Handler) startTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.service.StartTest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(test))
}

// ingestActions accepts one action object or an array of actions for batch
// submission. Validation rejects the whole batch before any storage
// mutation; retried submissions with the same idempotency keys are safe.
func (h *Handler) ingestActions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	actions, err := domain.ParseActions(body)
	if err != nil {
		writeError(w, err)
		return
	}
	test, err := h.service.Ingest(r.Context(), r.PathValue("id"), actions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestView{
		TestID:       test.ID,
		Status:       test.Status,
		CurrentIndex: test.CurrentIndex,
		RemainingSec: h.remaining(test),
	})
}

func (h *Handler) getTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.service.GetTest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(test))
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) view(test domain.Test) testView {
	return testView{Test: test, RemainingSec: h.remaining(test)}
}

func (h *Handler) remaining(test domain.Test) *int64 {
	rem, ok := app.Remaining(test, h.now())
	if !ok {
		return nil
	}
	sec := int64(rem / time.Second)
	return &sec
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidAction), errors.Is(err, domain.ErrInvalidQuiz):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTestNotFound), errors.Is(err, domain.ErrQuizNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrTestNotStarted), errors.Is(err, domain.ErrTestNotCompleted), errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
