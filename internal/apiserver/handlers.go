package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dsl-ob-poc/internal/abac"
	"dsl-ob-poc/internal/apperrors"
	"dsl-ob-poc/internal/ast"
	"dsl-ob-poc/internal/compiler"
	"dsl-ob-poc/internal/durability"
	"dsl-ob-poc/internal/registry"
	"dsl-ob-poc/internal/runbook"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// processUtteranceRequest is process_utterance's request body.
type processUtteranceRequest struct {
	Source        string `json:"source"`
	SnapshotSetID string `json:"snapshot_set_id,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// compilationOutput is process_utterance's response shape:
// {runbook_id?, diagnostics, plan_summary, synthetic_steps}.
type compilationOutput struct {
	RunbookID      string                    `json:"runbook_id,omitempty"`
	Diagnostics    []apperrors.Diagnostic    `json:"diagnostics"`
	PlanSummary    string                    `json:"plan_summary"`
	SyntheticSteps []runbook.SyntheticStep   `json:"synthetic_steps"`
}

func (s *Server) handleProcessUtterance(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req processUtteranceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	snapshotSetID := req.SnapshotSetID
	if snapshotSetID == "" {
		active, err := s.rt.ActiveSnapshotSetID(ctx)
		if err != nil {
			writeError(w, http.StatusFailedDependency, err)
			return
		}
		snapshotSetID = active
	}

	prog, err := ast.Parse(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess := s.sessions.Resolve(sessionID, snapshotSetID)
	actor := abac.ActorContext{ActorID: req.ActorID, Roles: req.Roles}

	result, err := compiler.Compile(prog, sess, s.rt.Resolver(ctx, snapshotSetID), s.rt.Ontology, actor, compiler.Options{
		SnapshotSetID: snapshotSetID,
		Version:       1,
		Templates:     s.rt.Templates,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	out := compilationOutput{
		Diagnostics:    result.Diagnostics.Items,
		SyntheticSteps: result.Synthetic,
	}
	if result.Diagnostics.HasHardErrors() {
		out.PlanSummary = "compilation failed"
		writeJSON(w, http.StatusUnprocessableEntity, out)
		return
	}

	if err := s.rt.Runbooks.SaveRunbook(ctx, result.Runbook); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out.RunbookID = result.Runbook.Id.String()
	out.PlanSummary = planSummary(result)
	writeJSON(w, http.StatusOK, out)
}

func planSummary(result *compiler.Result) string {
	if result.WasReordered {
		return "compiled with statement reordering"
	}
	return "compiled in source order"
}

func (s *Server) handleExecuteRunbook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runbookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		ActorID string   `json:"actor_id,omitempty"`
		Roles   []string `json:"roles,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	exec := s.rt.Executor(s.verbs, s.labels)
	report, err := exec.Execute(r.Context(), runbook.NewId(id), abac.ActorContext{ActorID: req.ActorID, Roles: req.Roles})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CorrelationKey string `json:"correlation_key"`
		Payload        map[string]any `json:"payload"`
		IdempotencyKey string `json:"idempotency_key"`
		TaskID         string `json:"task_id"`
		Status         string `json:"status"`
		Error          string `json:"error,omitempty"`
		ActorID        string `json:"actor_id,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var status durability.TaskStatus
	switch req.Status {
	case "", "completed":
		status = durability.TaskCompleted
	case "failed":
		status = durability.TaskFailed
	case "expired":
		status = durability.TaskExpired
	default:
		writeError(w, http.StatusBadRequest, apperrors.New(apperrors.KindInvalidInput, "unrecognized status %q", req.Status))
		return
	}

	result := durability.TaskResult{
		TaskID:         req.TaskID,
		Status:         status,
		IdempotencyKey: req.IdempotencyKey,
		Error:          req.Error,
		Payload:        req.Payload,
	}

	exec := s.rt.Executor(s.verbs, s.labels)
	resumer := exec.Resumer(abac.ActorContext{ActorID: req.ActorID})

	resumed, err := durability.Resume(r.Context(), s.rt.Durable, req.CorrelationKey, result, resumer)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": resumed})
}

func (s *Server) handleCancelRunbook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runbookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	ctx := r.Context()
	rb, ok, err := s.rt.Runbooks.GetRunbook(ctx, runbook.NewId(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, apperrors.New(apperrors.KindNotFound, "runbook %s not found", id))
		return
	}
	if rb.Status.Kind != runbook.StatusParked {
		writeError(w, http.StatusConflict, apperrors.New(apperrors.KindInvalidTransition, "runbook %s is %s, not parked", id, rb.Status.Kind))
		return
	}

	if key := rb.Status.CorrelationKey; key != "" {
		if token, ok, err := s.rt.Durable.GetParkedTokenByCorrelationKey(ctx, key); err == nil && ok {
			s.rt.Durable.UpdateParkedTokenStatus(ctx, token.Token, durability.ParkedCancelled)
		}
		if corr, ok, err := s.rt.Durable.GetCorrelationByKey(ctx, key); err == nil && ok {
			if err := s.rt.Workflow.CancelProcess(ctx, corr.ProcessInstanceID); err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			s.rt.Durable.UpdateCorrelationStatus(ctx, key, durability.CorrelationCancelled)
		}
	}

	rb.Status.Kind = runbook.StatusFailed
	rb.Status.FailureError = "UserCancelled: " + req.Reason
	if err := s.rt.Runbooks.SaveRunbook(ctx, rb); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleProposeChangeSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string              `json:"id"`
		Manifest  registry.Manifest   `json:"manifest"`
		Artifacts []registry.Artifact `json:"artifacts"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cs, err := s.rt.Publisher(nil).Propose(r.Context(), req.ID, req.Manifest, req.Artifacts)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	cs, err := s.rt.Publisher(nil).Validate(r.Context(), chi.URLParam(r, "changesetID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	cs, err := s.rt.Publisher(nil).DryRun(r.Context(), chi.URLParam(r, "changesetID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handlePlanPublish(w http.ResponseWriter, r *http.Request) {
	cs, err := s.rt.Publisher(nil).PlanPublish(r.Context(), chi.URLParam(r, "changesetID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublishedBy string `json:"published_by"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	cs, err := s.rt.Publisher(nil).Publish(r.Context(), chi.URLParam(r, "changesetID"), req.PublishedBy)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs         []string `json:"ids"`
		PublishedBy string   `json:"published_by"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	published, err := s.rt.Publisher(nil).PublishBatch(r.Context(), req.IDs, req.PublishedBy)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, published)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetSnapshotSetID string `json:"target_snapshot_set_id"`
		Actor               string `json:"actor"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Publisher(nil).Rollback(r.Context(), req.TargetSnapshotSetID, req.Actor); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_snapshot_set_id": req.TargetSnapshotSetID})
}

func (s *Server) handleRecordReviewDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approver string `json:"approver"`
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "changesetID")
	if err := s.rt.Publisher(nil).RecordReviewDecision(r.Context(), id, req.Approver, req.Approved, req.Reason); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
