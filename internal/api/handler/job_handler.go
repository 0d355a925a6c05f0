package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuongbtq/visual-diff/internal/api/dto"
	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/orchestrator"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxPageSize = 100

// CreateJob handles POST /api/v1/jobs
// Accepts the baseline and current images as multipart files and queues the
// comparison. Optional fields: metadata (JSON object), roi ("x0,y0,x1,y1"
// pixels) or roi_ratio (same order, fractions of the baseline size).
func (h *JobHandler) CreateJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	baseline, err := readFormFile(c, "baseline")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	current, err := readFormFile(c, "current")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	sub := orchestrator.Submission{Baseline: baseline, Current: current}

	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub.Metadata); err != nil || sub.Metadata == nil {
			badRequest(c, "metadata must be a JSON object")
			return
		}
	}

	switch {
	case c.PostForm("roi") != "":
		roi, err := parseROI(c.PostForm("roi"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		sub.ROI = roi
	case c.PostForm("roi_ratio") != "":
		roi, err := parseROIRatio(c.PostForm("roi_ratio"), baseline)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		sub.ROI = roi
	}

	jobID, err := h.jobs.Submit(c.Request.Context(), sub)
	if err != nil {
		h.abortWithError(c, err, "Failed to create job")
		return
	}

	h.logger.Info("Job accepted",
		slog.String("job_id", jobID),
		slog.Bool("roi", sub.ROI != nil),
	)
	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  jobID,
		Status: string(domain.StatusQueued),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the status snapshot and the tagged outcome.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		h.abortWithError(c, err, "Failed to get job")
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status filter and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "Invalid query parameters")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	status := domain.Status(req.Status)
	if req.Status != "" && !status.Valid() {
		badRequest(c, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		badRequest(c, "Invalid cursor")
		return
	}

	jobs, next, err := h.jobs.List(c.Request.Context(), storage.Filter{
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.abortWithError(c, err, "Failed to list jobs")
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.FromJob(job)
	}
	if next != nil {
		resp.NextCursor = EncodeJobCursor(next)
	}
	c.JSON(http.StatusOK, resp)
}

// GetArtifact handles GET /api/v1/jobs/:job_id/artifacts/:name
// 404 for unknown names or jobs that will never produce the artifact, 409 with
// Retry-After while the job is still running.
func (h *JobHandler) GetArtifact(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	name := c.Param("name")

	data, err := h.jobs.Artifact(c.Request.Context(), jobID, name)
	if err != nil {
		h.abortWithError(c, err, "Failed to get artifact")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", artifact.Filename(jobID, name)))
	c.Data(http.StatusOK, artifact.ContentType(name), data)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// A queued job fails immediately; a processing job stops at its next stage.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		h.abortWithError(c, err, "Failed to cancel job")
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Removes a finished job and its artifacts.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	if err := h.jobs.Delete(c.Request.Context(), jobID); err != nil {
		h.abortWithError(c, err, "Failed to delete job")
		return
	}
	c.Status(http.StatusNoContent)
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	report := h.jobs.Health(c.Request.Context())
	status := http.StatusOK
	if report.Status != orchestrator.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		badRequest(c, "job_id must be a valid UUID")
		return "", false
	}
	return jobID, true
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("upload exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("%s image is required", field)
	}
	data, err := readMultipart(header)
	if err != nil {
		return nil, fmt.Errorf("read %s image: %w", field, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s image is empty", field)
	}
	return data, nil
}

func readMultipart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func splitFour(raw, field string) ([4]string, error) {
	var out [4]string
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("%s must be x0,y0,x1,y1", field)
	}
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out, nil
}

// parseROI reads a pixel box "x0,y0,x1,y1". Clamping to the image happens
// in the worker once the size is known.
func parseROI(raw string) (*domain.BBox, error) {
	parts, err := splitFour(raw, "roi")
	if err != nil {
		return nil, err
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("roi coordinate %q is not an integer", p)
		}
		v[i] = n
	}
	roi := &domain.BBox{X0: v[0], Y0: v[1], X1: v[2], Y1: v[3]}
	if roi.X0 == roi.X1 || roi.Y0 == roi.Y1 {
		return nil, fmt.Errorf("roi %s is empty", roi)
	}
	return roi, nil
}

// parseROIRatio converts a fractional box against the baseline dimensions.
func parseROIRatio(raw string, baseline []byte) (*domain.BBox, error) {
	parts, err := splitFour(raw, "roi_ratio")
	if err != nil {
		return nil, err
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("roi_ratio value %q must be within [0,1]", p)
		}
		v[i] = f
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(baseline))
	if err != nil {
		return nil, fmt.Errorf("roi_ratio needs a decodable baseline: %w", err)
	}
	b := imaging.BoxFromRatio(v[0], v[1], v[2], v[3], cfg.Width, cfg.Height)
	roi := &domain.BBox{X0: b.X0, Y0: b.Y0, X1: b.X1, Y1: b.Y1}
	if roi.X0 == roi.X1 || roi.Y0 == roi.Y1 {
		return nil, fmt.Errorf("roi_ratio %s is empty", raw)
	}
	return roi, nil
}
