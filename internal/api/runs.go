package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"model-market-go/internal/auth"
	"model-market-go/internal/models"
	"model-market-go/internal/provider"
	"model-market-go/internal/runs"
	"model-market-go/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// modelParam returns the base64 model slug of the route and the owner/name it encodes
func modelParam(r *http.Request) (string, string, error) {
	slug, err := url.PathUnescape(chi.URLParam(r, "model"))
	if err != nil {
		return "", "", err
	}
	name, err := provider.DecodeModelSlug(slug)
	if err != nil {
		return "", "", err
	}
	return slug, name, nil
}

// handleRunMessage issues the message a wallet signs to authorise one run of a model
func (s *LedgerService) handleRunMessage(w http.ResponseWriter, r *http.Request) {
	user := models.UserFromContext(r.Context())
	_, name, err := modelParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid model id")
		return
	}

	msg, err := s.verifier.NewMessage(user.WalletAddress, auth.RunStatement(name))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: msg.String()})
}

// decodeRun validates the route model and the signed run request. Nothing is billed or run
// when it fails.
func (s *LedgerService) decodeRun(w http.ResponseWriter, r *http.Request) (runs.RunParams, bool) {
	user := models.UserFromContext(r.Context())

	slug, name, err := modelParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid model id")
		return runs.RunParams{}, false
	}

	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return runs.RunParams{}, false
	}

	if err := s.verifier.VerifyRun(req.Message, req.Signature, name, user.WalletAddress); err != nil {
		zap.L().Info("Run authorisation rejected",
			zap.String("user_id", user.Id),
			zap.String("model", name),
			zap.Error(err))
		writeServiceError(w, r, err)
		return runs.RunParams{}, false
	}

	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	return runs.RunParams{
		User:      user,
		Signature: req.Signature,
		Model:     slug,
		Input:     input,
		Version:   r.URL.Query().Get("version"),
	}, true
}

func (s *LedgerService) handleRunModel(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	result, err := s.runs.RunModel(r.Context(), params)
	if errors.Is(err, runs.ErrBillingFailed) {
		writeJSON(w, http.StatusPaymentRequired, models.BillingFailedResponse{Error: err.Error(), Result: result})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *LedgerService) handleRunModelAsync(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	run, err := s.runs.RunModelAsync(r.Context(), params)
	if errors.Is(err, runs.ErrBillingFailed) {
		writeJSON(w, http.StatusPaymentRequired, models.BillingFailedResponse{Error: err.Error(), Run: run})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *LedgerService) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runId, ok := s.ownedRun(w, r)
	if !ok {
		return
	}

	run, err := s.runs.GetRunStatus(r.Context(), runId)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *LedgerService) handleRunResult(w http.ResponseWriter, r *http.Request) {
	runId, ok := s.ownedRun(w, r)
	if !ok {
		return
	}

	result, err := s.runs.GetRunResult(r.Context(), runId)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ownedRun resolves the run id of the route. Runs not billed to the caller are reported as
// not found.
func (s *LedgerService) ownedRun(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := models.UserFromContext(r.Context())
	runId := chi.URLParam(r, "id")

	usage, err := s.db.GetUsageByRunId(r.Context(), runId)
	if err == nil && usage.UserId != user.Id {
		zap.L().Warn("Run requested by non-owner",
			zap.String("run_id", runId),
			zap.String("user_id", user.Id))
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return "", false
	}
	if err != nil {
		writeServiceError(w, r, err)
		return "", false
	}
	return runId, true
}
