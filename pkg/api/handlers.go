package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adamd9/thelastquiz/pkg/costs"
	"github.com/adamd9/thelastquiz/pkg/orchestrator"
	"github.com/adamd9/thelastquiz/pkg/quiz"
	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/go-chi/chi/v5"
)

// maxQuizBody bounds uploaded quiz documents.
const maxQuizBody = 1 << 20

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps domain errors onto HTTP status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *orchestrator.ValidationError
		stateErr      *orchestrator.InvalidStateError
	)

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{validationErr.Error()})
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, errorResponse{stateErr.Error()})
	default:
		s.log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": s.gateway.Kind(),
	})
}

// --- Quizzes ---

// handleCreateQuiz registers a quiz document. YAML bodies are accepted
// when the Content-Type says so; everything else is parsed as JSON.
func (s *server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxQuizBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"reading body"})

		return
	}

	var q *quiz.Quiz

	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		q, err = quiz.ParseYAML(body)
	} else {
		q, err = quiz.ParseJSON(body)
	}

	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	doc, err := q.JSON()
	if err != nil {
		s.writeError(w, err)

		return
	}

	record := &storage.QuizRecord{
		QuizID:    q.ID,
		Title:     q.Title,
		Source:    q.Source,
		QuizJSON:  doc,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.gateway.PutQuiz(r.Context(), record); err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleListQuizzes returns all registered quizzes.
func (s *server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := s.gateway.ListQuizzes(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes})
}

// handleGetQuiz returns one quiz document.
func (s *server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	record, err := s.gateway.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, record)
}

// --- Runs ---

type createRunRequest struct {
	QuizID   string              `json:"quiz_id"`
	Models   []string            `json:"models"`
	Settings storage.RunSettings `json:"settings"`
}

// handleCreateRun creates a run and starts it immediately. The response
// returns as soon as the run is accepted; progress is observed through
// the status endpoints.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"decoding request"})

		return
	}

	run, err := s.engine.CreateRun(r.Context(), req.QuizID, req.Models, req.Settings)
	if err != nil {
		s.writeError(w, err)

		return
	}

	if err := s.engine.StartRun(r.Context(), run.RunID); err != nil {
		s.writeError(w, err)

		return
	}

	run.Status = storage.StatusRunning

	writeJSON(w, http.StatusAccepted, run)
}

// handleListRuns returns all runs, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.gateway.ListRuns(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns one run's current state from storage. Never
// blocks on run execution.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.gateway.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleAbortRun cancels a queued or running run.
func (s *server) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.engine.AbortRun(r.Context(), runID); err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "aborting",
	})
}

// handleListResults returns the result rows recorded so far for a run,
// including partial results of a run still in flight.
func (s *server) handleListResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if _, err := s.gateway.GetRun(r.Context(), runID); err != nil {
		s.writeError(w, err)

		return
	}

	results, err := s.gateway.ListResults(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"results": results,
		"costs":   costs.Summarize(results),
	})
}

// handleRunCosts returns the aggregated cost summary of a run.
func (s *server) handleRunCosts(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.CostSummary(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleRunLog returns the tail of a run's execution log. The log is
// best-effort observability output; a missing log for a known run is
// reported, not an error.
func (s *server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if _, err := s.gateway.GetRun(r.Context(), runID); err != nil {
		s.writeError(w, err)

		return
	}

	n := 100
	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid tail value"})

			return
		}

		n = parsed
	}

	lines, exists, err := s.logs.Tail(runID, n)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"exists": exists,
		"lines":  lines,
	})
}

// --- Assets and reports ---

// handleListAssets returns the registered assets of a run.
func (s *server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if _, err := s.gateway.GetRun(r.Context(), runID); err != nil {
		s.writeError(w, err)

		return
	}

	assets, err := s.gateway.ListAssets(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"assets": assets,
	})
}

// handleTriggerReport regenerates the report artifacts for a terminal
// run, replacing previous ones.
func (s *server) handleTriggerReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.gateway.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	if !run.Status.Terminal() {
		s.writeError(w, &orchestrator.InvalidStateError{
			RunID:  runID,
			Status: run.Status,
			Op:     "generate report",
		})

		return
	}

	if err := s.trigger.Generate(r.Context(), runID); err != nil {
		s.writeError(w, err)

		return
	}

	assets, err := s.gateway.ListAssets(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"assets": assets,
	})
}

// handleAssetFile serves a generated asset file from the assets
// directory. Paths are confined to the run's asset subtree.
func (s *server) handleAssetFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rel := chi.URLParam(r, "*")

	if runID == "" || rel == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"asset path is required"})

		return
	}

	root := filepath.Join(s.cfg.AssetsDir(), runID)
	path := filepath.Join(root, filepath.FromSlash(rel))

	// Reject traversal out of the run's directory.
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid asset path"})

		return
	}

	http.ServeFile(w, r, path)
}
