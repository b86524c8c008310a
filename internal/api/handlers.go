package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/internal/service"
	"github.com/ajitpratap0/orbit/internal/stats"
	"github.com/ajitpratap0/orbit/pkg/connector/base"
	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/store"
)

type handlers struct {
	svc    *service.Service
	logger *zap.Logger
}

type connectorList struct {
	Connectors []*models.ConnectorDescriptor `json:"connectors"`
	Families   []string                      `json:"families"`
}

type jobList struct {
	Jobs []*models.SyncJob `json:"jobs"`
}

type scheduleList struct {
	Schedules []*models.ScheduleDefinition `json:"schedules"`
}

// rawRequest is the body of a pass-through call. The connector comes from
// the path.
type rawRequest struct {
	Endpoint models.CustomEndpointDefinition `json:"endpoint"`
	Payload  core.RawPayload                 `json:"payload"`
}

type healthResponse struct {
	Status     string              `json:"status"`
	ActiveJobs int                 `json:"active_jobs"`
	Connectors []base.HealthStatus `json:"connectors,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	connectors, healthy := h.svc.ConnectorHealth()
	resp := healthResponse{Status: "ok", ActiveJobs: len(h.svc.ActiveJobs()), Connectors: connectors}
	if !healthy {
		resp.Status = "degraded"
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *handlers) registerConnector(w http.ResponseWriter, r *http.Request) {
	var d models.ConnectorDescriptor
	if err := decode(r, &d); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.svc.RegisterConnector(r.Context(), &d)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.WithContext(r.Context()).Info("connector registered", zap.String("connector_id", out.ID))
	writeJSON(w, out, http.StatusCreated)
}

func (h *handlers) listConnectors(w http.ResponseWriter, r *http.Request) {
	active, err := boolParam(r, "active")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, connectorList{
		Connectors: h.svc.ListConnectors(r.Context(), active != nil && *active),
		Families:   h.svc.Families(),
	}, http.StatusOK)
}

func (h *handlers) getConnector(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetConnector(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, d, http.StatusOK)
}

func (h *handlers) testConnection(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.TestConnection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (h *handlers) executeRaw(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Endpoint.ConnectorID = chi.URLParam(r, "id")
	out, err := h.svc.ExecuteRaw(r.Context(), req.Endpoint, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (h *handlers) startSync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.StartSync(r.Context(), req)
	if err != nil && res == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		// The job runs; the recurrence could not be stored.
		logger.WithContext(r.Context()).Warn("sync started without schedule", zap.Error(err))
	}
	writeJSON(w, res, http.StatusAccepted)
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		ConnectorID: q.Get("connector_id"),
		ScheduleID:  q.Get("schedule_id"),
		Direction:   models.Direction(q.Get("direction")),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, models.JobStatus(strings.TrimSpace(s)))
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, errors.Newf(errors.ErrorTypeValidation, "invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("period"); raw != "" {
		period := models.Period(raw)
		if !period.Valid() {
			writeError(w, errors.Newf(errors.ErrorTypeValidation, "invalid period %q", raw))
			return
		}
		filter.Window = models.WindowFor(period, time.Now())
	}

	jobs, err := h.svc.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, jobList{Jobs: jobs}, http.StatusOK)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, job, http.StatusOK)
}

func (h *handlers) cancelSync(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.svc.CancelSync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"cancelled": cancelled}, http.StatusOK)
}

func (h *handlers) scheduleSync(w http.ResponseWriter, r *http.Request) {
	var def models.ScheduleDefinition
	if err := decode(r, &def); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.svc.ScheduleSync(r.Context(), &def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out, http.StatusCreated)
}

func (h *handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.svc.ListSchedules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, scheduleList{Schedules: schedules}, http.StatusOK)
}

func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	def, err := h.svc.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, def, http.StatusOK)
}

func (h *handlers) setScheduleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := h.svc.SetScheduleEnabled(r.Context(), chi.URLParam(r, "id"), enabled)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, def, http.StatusOK)
	}
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts stats.Options
	distinguish, err := boolParam(r, "distinguish_empty")
	if err != nil {
		writeError(w, err)
		return
	}
	opts.DistinguishEmpty = distinguish
	for _, id := range q["connector_id"] {
		if id != "" {
			opts.ConnectorIDs = append(opts.ConnectorIDs, id)
		}
	}

	summary, err := h.svc.GetSummary(r.Context(), models.Period(q.Get("period")), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, summary, http.StatusOK)
}

func (h *handlers) archive(w http.ResponseWriter, r *http.Request) {
	period := models.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = models.PeriodDay
	}
	res, err := h.svc.Archive(r.Context(), period)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("jobs archived",
		zap.String("key", res.Key),
		zap.Int("jobs", res.Jobs))
	writeJSON(w, res, http.StatusOK)
}

// boolParam parses an optional boolean query parameter.
func boolParam(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid %s %q", name, raw)
	}
	return &v, nil
}
