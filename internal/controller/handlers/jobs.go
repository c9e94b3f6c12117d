package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"backjob/internal/dispatch"
	"backjob/internal/logger"
	"backjob/pkg/api"
)

// StartJob handles POST /jobs.
// It records a job for a registered action and triggers it in the background.
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, h.logger)

	var req api.StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		httpError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	if !h.actions.Has(req.Action) {
		httpError(w, "Unknown action: "+req.Action, http.StatusBadRequest)
		return
	}

	call := dispatch.Call{
		Route:         req.Action,
		Params:        toValues(req.Params),
		Method:        req.Method,
		PostData:      toValues(req.PostData),
		AsCurrentUser: req.AsCurrentUser,
	}

	id, err := h.starter.Start(ctx, r, call, time.Duration(req.DelaySeconds)*time.Second)
	if err != nil {
		log.Error("failed to start job", "action", req.Action, "error", err)
		httpError(w, "Failed to start job", http.StatusInternalServerError)
		return
	}

	log.Info("job started", "job_id", id, "action", req.Action)
	respondJson(w, http.StatusAccepted, api.StartJobResponse{JobID: id})
}

// GetJob handles GET /jobs/{id}.
// An unknown id is reported as a fresh STARTED job, never as 404.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 0 {
		httpError(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	st, err := h.status.PublicStatus(ctx, id)
	if err != nil {
		logger.FromContext(ctx, h.logger).Error("failed to read job status", "job_id", id, "error", err)
		httpError(w, "Failed to read job status", http.StatusInternalServerError)
		return
	}

	respondJson(w, http.StatusOK, api.JobStatusResponse{
		ID:         id,
		Progress:   st.Progress,
		Status:     st.Status.String(),
		StatusText: st.StatusText,
	})
}

// Sweep handles POST /internal/sweep.
func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("sweep failed", "error", err)
		httpError(w, "Sweep failed", http.StatusInternalServerError)
		return
	}
	respondJson(w, http.StatusOK, api.SweepResponse{Deleted: n})
}

func toValues(m map[string]string) url.Values {
	if len(m) == 0 {
		return nil
	}
	v := make(url.Values, len(m))
	for k, val := range m {
		v.Set(k, val)
	}
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return "Invalid request: " + strings.Join(fields, ", ")
}
