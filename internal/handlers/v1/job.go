package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
	"github.com/docsmith/genqueue/pkg/requestid"
)

type JobHandler struct {
	queue *service.QueueService
	steps *service.StepService
	dash  *service.DashboardService
	log   *zap.SugaredLogger
}

func NewJobHandler(queue *service.QueueService, steps *service.StepService, dash *service.DashboardService) *JobHandler {
	return &JobHandler{
		queue: queue,
		steps: steps,
		dash:  dash,
		log:   zap.S().Named("job_handler"),
	}
}

func (h *JobHandler) Register(router chi.Router) {
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.Enqueue)
		r.Post("/jobs/bulk", h.BulkEnqueue)
		r.Get("/jobs", h.List)
		r.Get("/jobs/{id}", h.Get)
		r.Post("/jobs/{id}/cancel", h.Cancel)
		r.Post("/jobs/{id}/retry", h.Retry)
		r.Get("/dashboard", h.Dashboard)
	})
	router.Get("/healthz", h.Health)
}

func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.queue.Enqueue(r.Context(), req.toService())
	if err != nil {
		h.log.Errorw("enqueue failed", "kind", req.Kind, "error", err)
		switch err.(type) {
		case *service.ErrInvalidInput:
			h.renderError(w, r, http.StatusBadRequest, err.Error())
		default:
			h.renderError(w, r, http.StatusInternalServerError, "failed to enqueue job")
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, jobToAPI(job))
}

func (h *JobHandler) BulkEnqueue(w http.ResponseWriter, r *http.Request) {
	var req BulkEnqueueRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reqs := make([]service.EnqueueRequest, 0, len(req.Jobs))
	for _, input := range req.Jobs {
		reqs = append(reqs, EnqueueJobRequest{
			Kind:       req.Kind,
			OrgID:      req.OrgID,
			Username:   req.Username,
			Priority:   req.Priority,
			Input:      input,
			MaxRetries: req.MaxRetries,
		}.toService())
	}

	result, err := h.queue.BulkEnqueue(r.Context(), reqs)
	if err != nil {
		h.log.Errorw("bulk enqueue failed", "kind", req.Kind, "error", err)
		switch err.(type) {
		case *service.ErrInvalidInput:
			h.renderError(w, r, http.StatusBadRequest, err.Error())
		default:
			h.renderError(w, r, http.StatusInternalServerError, "failed to enqueue jobs")
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, BulkEnqueueResponse{
		TotalJobs:   len(req.Jobs),
		CreatedJobs: result.Created,
		FailedJobs:  result.Failed,
	})
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.NewJobQueryFilter()
	if v := r.URL.Query().Get("org_id"); v != "" {
		filter = filter.ByOrgID(v)
	}
	if v := r.URL.Query().Get("username"); v != "" {
		filter = filter.ByUsername(v)
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		filter = filter.ByKind(model.JobKind(v))
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter = filter.ByStatus(model.JobStatus(v))
	}
	if lo, hi := r.URL.Query().Get("priority_min"), r.URL.Query().Get("priority_max"); lo != "" || hi != "" {
		min, max := 1, 10
		if v, err := strconv.Atoi(lo); err == nil {
			min = v
		}
		if v, err := strconv.Atoi(hi); err == nil {
			max = v
		}
		filter = filter.ByPriorityRange(min, max)
	}
	if v := r.URL.Query().Get("created_after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter = filter.ByCreatedAfter(t)
		}
	}

	opts := store.NewJobQueryOptions().WithSortOrder(store.SortByCreatedTime)
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	opts = opts.WithLimit(limit)
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		opts = opts.WithOffset(v)
	}

	jobs, err := h.queue.List(r.Context(), filter, opts)
	if err != nil {
		h.log.Errorw("list failed", "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	total, err := h.queue.CountJobs(r.Context(), filter)
	if err != nil {
		h.log.Errorw("count failed", "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs)), Total: total}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, jobToAPI(&jobs[i]))
	}
	render.JSON(w, r, resp)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	job, err := h.queue.Get(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *service.ErrJobNotFound:
			h.renderError(w, r, http.StatusNotFound, err.Error())
		default:
			h.log.Errorw("get failed", "job_id", id, "error", err)
			h.renderError(w, r, http.StatusInternalServerError, "failed to get job")
		}
		return
	}
	render.JSON(w, r, jobToAPI(job))
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	job, err := h.queue.Cancel(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *service.ErrJobNotFound:
			h.renderError(w, r, http.StatusNotFound, err.Error())
		case *service.ErrAlreadyTerminal:
			h.renderError(w, r, http.StatusConflict, err.Error())
		default:
			h.log.Errorw("cancel failed", "job_id", id, "error", err)
			h.renderError(w, r, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}
	render.JSON(w, r, jobToAPI(job))
}

func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	job, err := h.queue.Retry(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *service.ErrJobNotFound:
			h.renderError(w, r, http.StatusNotFound, err.Error())
		case *service.ErrNotFailed:
			h.renderError(w, r, http.StatusConflict, err.Error())
		default:
			h.log.Errorw("retry failed", "job_id", id, "error", err)
			h.renderError(w, r, http.StatusInternalServerError, "failed to retry job")
		}
		return
	}
	render.JSON(w, r, jobToAPI(job))
}

func (h *JobHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	window := 7 * 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			window = d
		}
	}
	dash, err := h.dash.Overview(r.Context(), r.URL.Query().Get("org_id"), window)
	if err != nil {
		h.log.Errorw("dashboard failed", "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	render.JSON(w, r, dash)
}

func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *JobHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *JobHandler) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	resp := ErrorResponse{Message: message}
	if rid := requestid.FromContext(r.Context()); rid != "" {
		resp.RequestID = &rid
	}
	render.JSON(w, r, resp)
}
