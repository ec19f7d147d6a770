package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/service"
	"github.com/timmy/dishrank/internal/source/s3file"
	"github.com/timmy/dishrank/internal/storage"
)

// maxUploadSize bounds a multipart JSONL upload.
const maxUploadSize = 64 << 20

// ImportHandler schedules import jobs and reports their progress.
type ImportHandler struct {
	scheduler *service.Scheduler
	jobs      *repository.JobRepository
	store     storage.ObjectStorage
}

// NewImportHandler creates a new import handler.
// Parameters:
//   - scheduler: creates jobs and enqueues their batches.
//   - jobs: job and batch state store for status queries.
//   - store: object storage for uploaded files; nil disables uploads.
// Returns:
//   - *ImportHandler: initialized handler.
func NewImportHandler(scheduler *service.Scheduler, jobs *repository.JobRepository, store storage.ObjectStorage) *ImportHandler {
	return &ImportHandler{scheduler: scheduler, jobs: jobs, store: store}
}

// ImportRequest is the JSON body of POST /api/v1/imports.
type ImportRequest struct {
	SourceID string            `json:"sourceId" binding:"required"`
	JobType  domain.JobType    `json:"jobType" binding:"required"`
	Data     []json.RawMessage `json:"data" binding:"required"`
}

// ImportResponse describes a scheduled job.
type ImportResponse struct {
	JobID        string           `json:"jobId"`
	Status       domain.JobStatus `json:"status"`
	TotalRecords int              `json:"totalRecords"`
	Batches      int              `json:"batches"`
	MessageIDs   []string         `json:"messageIds,omitempty"`
	ObjectKey    string           `json:"objectKey,omitempty"`
}

// JobStatusResponse is returned by GET /api/v1/imports/:jobId.
type JobStatusResponse struct {
	Job     *domain.ImportJob    `json:"job"`
	Batches []domain.ImportBatch `json:"batches"`
}

// CreateImport handles POST /api/v1/imports. A JSON body carries the records
// inline; a multipart form uploads a JSONL file to object storage and
// schedules the job from there.
func (h *ImportHandler) CreateImport(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.createFromUpload(c)
		return
	}

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.scheduler.ScheduleRecords(c.Request.Context(), req.SourceID, req.JobType, req.Data)
	h.respondScheduled(c, res, "", err)
}

func (h *ImportHandler) createFromUpload(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "object storage is not configured"})
		return
	}

	sourceID := strings.TrimSpace(c.PostForm("sourceId"))
	jobType := domain.JobType(strings.ToUpper(c.PostForm("jobType")))
	if sourceID == "" || !jobType.Valid() {
		respondError(c, domain.NewValidationError("sourceId and a valid jobType are required", "sourceId", "jobType"))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	if fh.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", maxUploadSize)})
		return
	}
	file, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	key := path.Join("imports", sourceID, uuid.New().String()+".jsonl")
	if err := h.store.Upload(ctx, key, file, fh.Size, "application/x-ndjson"); err != nil {
		respondError(c, domain.NewStoreError("upload", err))
		return
	}
	logger.CtxInfo(ctx, "Uploaded import file: name=%s, key=%s, size=%d", fh.Filename, key, fh.Size)

	res, err := h.scheduler.ScheduleImport(ctx, s3file.NewAdapter(h.store, key, sourceID), jobType, 0)
	h.respondScheduled(c, res, key, err)
}

func (h *ImportHandler) respondScheduled(c *gin.Context, res *service.ScheduleResult, key string, err error) {
	if err != nil {
		// the job exists but some batches were never enqueued
		if res != nil && res.Job != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    err.Error(),
				"jobId":    res.Job.JobID,
				"enqueued": len(res.MessageIDs),
				"batches":  res.Batches,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, ImportResponse{
		JobID:        res.Job.JobID,
		Status:       res.Job.Status,
		TotalRecords: res.Job.TotalRecords,
		Batches:      res.Batches,
		MessageIDs:   res.MessageIDs,
		ObjectKey:    key,
	})
}

// GetImport handles GET /api/v1/imports/:jobId.
func (h *ImportHandler) GetImport(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("jobId")

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	batches, err := h.jobs.ListBatches(ctx, jobID)
	if err != nil {
		respondError(c, domain.NewStoreError("list batches", err))
		return
	}
	c.JSON(http.StatusOK, JobStatusResponse{Job: job, Batches: batches})
}

// ListImports handles GET /api/v1/imports.
func (h *ImportHandler) ListImports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	jobs, err := h.jobs.ListJobs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, domain.NewStoreError("list jobs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}
