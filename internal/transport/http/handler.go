package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/service"
)

// QueueProcessor runs one bounded worker invocation (worker.Runner).
type QueueProcessor interface {
	ProcessQueue(ctx context.Context, types []entity.JobType, budget time.Duration) (int, error)
}

type Handler struct {
	svc       *service.IngestService
	runner    QueueProcessor
	maxBudget time.Duration
	log       *zap.SugaredLogger
}

// NewHandler wires the api. runner may be nil, which disables POST /queue/process.
func NewHandler(svc *service.IngestService, runner QueueProcessor, maxBudget time.Duration, log *zap.SugaredLogger) *Handler {
	if maxBudget <= 0 {
		maxBudget = time.Minute
	}
	return &Handler{svc: svc, runner: runner, maxBudget: maxBudget, log: log.With("component", "http")}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

type createCollectionDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateCollection godoc
// @Summary Create a collection
// @Description Idempotent: creating an existing collection returns it unchanged.
// @Tags collections
// @Accept json
// @Produce json
// @Param request body createCollectionDTO true "collection"
// @Success 201 {object} entity.Collection
// @Failure 400 {object} apiError
// @Router /collections [post]
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var dto createCollectionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	c, err := h.svc.CreateCollection(r.Context(), dto.ID, dto.Name)
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type startIngestionDTO struct {
	Collection     string             `json:"collection"`
	Records        []entity.RawRecord `json:"records"`
	WantEmbeddings bool               `json:"want_embeddings"`
	Priority       int                `json:"priority"`
}

type startIngestionResp struct {
	ID     string              `json:"id"`
	Status entity.IngestStatus `json:"status"`
}

// StartIngestion godoc
// @Summary Start an ingestion
// @Description Creates a PENDING pipeline job and queues it. Records are written asynchronously; poll GET /ingest-jobs/{id}.
// @Tags ingest-jobs
// @Accept json
// @Produce json
// @Param request body startIngestionDTO true "records to ingest"
// @Success 202 {object} startIngestionResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /ingest-jobs [post]
func (h *Handler) StartIngestion(w http.ResponseWriter, r *http.Request) {
	var dto startIngestionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.svc.StartIngestion(r.Context(), service.StartIngestionRequest{
		Collection:     dto.Collection,
		Records:        dto.Records,
		WantEmbeddings: dto.WantEmbeddings,
		Priority:       dto.Priority,
	})
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startIngestionResp{ID: job.ID.String(), Status: job.Status})
}

// GetIngestJob godoc
// @Summary Get pipeline job status
// @Description Also recovers a job whose vectorization worker stopped sending heartbeats.
// @Tags ingest-jobs
// @Produce json
// @Param id path string true "ingest job id (uuid)"
// @Success 200 {object} entity.IngestJob
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /ingest-jobs/{id} [get]
func (h *Handler) GetIngestJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListIngestJobs godoc
// @Summary List pipeline jobs
// @Tags ingest-jobs
// @Produce json
// @Param collection query string false "filter by collection"
// @Param limit query int false "max results (default 50, max 200)"
// @Success 200 {array} entity.IngestJob
// @Router /ingest-jobs [get]
func (h *Handler) ListIngestJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.svc.ListJobs(r.Context(), r.URL.Query().Get("collection"), limit)
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	if jobs == nil {
		jobs = []*entity.IngestJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CancelIngestJob godoc
// @Summary Cancel a pipeline job
// @Description Workers stop at their next batch boundary. Cancelling a cancelled job is a no-op.
// @Tags ingest-jobs
// @Produce json
// @Param id path string true "ingest job id (uuid)"
// @Success 200 {object} entity.IngestJob
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /ingest-jobs/{id}/cancel [post]
func (h *Handler) CancelIngestJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetQueueJob godoc
// @Summary Get a queue job
// @Tags queue
// @Produce json
// @Param id path string true "queue job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 404 {object} apiError
// @Router /queue-jobs/{id} [get]
func (h *Handler) GetQueueJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetQueueJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// QueueStats godoc
// @Summary Queue counts per job type and status
// @Tags queue
// @Produce json
// @Success 200 {array} entity.QueueStats
// @Router /queue/stats [get]
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.QueueStats(r.Context())
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	if stats == nil {
		stats = []entity.QueueStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

type processQueueResp struct {
	Processed int `json:"processed"`
}

// ProcessQueue godoc
// @Summary Run one worker invocation
// @Description Claims and processes jobs until the queue is empty or the budget is spent. Meant for schedulers.
// @Tags queue
// @Produce json
// @Param types query string false "INGEST_DATA, VECTORIZE or empty for both"
// @Param budget query string false "Go duration, capped by the server"
// @Success 200 {object} processQueueResp
// @Failure 400 {object} apiError
// @Router /queue/process [post]
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	types := []entity.JobType{entity.JobTypeIngestData, entity.JobTypeVectorize}
	if t := r.URL.Query().Get("types"); t != "" {
		typ := entity.JobType(t)
		if !typ.Valid() {
			writeErr(w, http.StatusBadRequest, "unknown job type")
			return
		}
		types = []entity.JobType{typ}
	}

	budget := h.maxBudget
	if b := r.URL.Query().Get("budget"); b != "" {
		d, err := time.ParseDuration(b)
		if err != nil || d <= 0 {
			writeErr(w, http.StatusBadRequest, "invalid budget")
			return
		}
		budget = min(d, h.maxBudget)
	}

	n, err := h.runner.ProcessQueue(r.Context(), types, budget)
	if err != nil {
		writeServiceErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, processQueueResp{Processed: n})
}
