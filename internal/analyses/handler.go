package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/duvallglobal/listapp-sub000/internal/credits"
	"github.com/duvallglobal/listapp-sub000/internal/shared/metrics"
	"github.com/duvallglobal/listapp-sub000/internal/shared/server/middleware"
	"github.com/duvallglobal/listapp-sub000/internal/shared/server/respond"
)

// maxResultWaitSeconds caps waitSeconds on the result endpoint. Kept below
// common 30s proxy timeouts.
const maxResultWaitSeconds = 25

const resultPollInterval = 1 * time.Second

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc     *Service
	limiter *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		Svc:     svc,
		limiter: newPollLimiter(pollLimitWindow, nil),
	}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.submitAnalysis)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.GET("/analyses/:id/status", h.getStatus)
	rg.GET("/analyses/:id/result", h.getResult)
}

func (h *Handler) submitAnalysis(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)
	maxBytes := h.Svc.MaxArtifactBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxArtifactBytes
	}
	// Leave headroom for the form fields around the image part.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+64<<10)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "image file is required", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read image", nil)
		return
	}
	defer file.Close()

	req := SubmitRequest{
		FileName:  fileHeader.Filename,
		Image:     file,
		Condition: c.PostForm("condition"),
		Notes:     c.PostForm("notes"),
	}
	if v := strings.TrimSpace(c.PostForm("estimated_cost")); v != "" {
		cost, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "estimated_cost must be a number", nil)
			return
		}
		req.EstimatedCost = &cost
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.Submit(ctx, ownerID, req)
	if err != nil {
		var ve errValidation
		switch {
		case errors.As(err, &ve):
			respond.Error(c, http.StatusBadRequest, "validation_error", ve.Error(), nil)
		case errors.Is(err, credits.ErrQuotaExceeded):
			metrics.IncQuotaRejection()
			respond.Error(c, http.StatusTooManyRequests, "quota_exceeded", "You've run out of analysis credits. Upgrade your plan to continue.", []map[string]string{
				{"field": "credits", "issue": "quota_exceeded"},
			})
		case errors.Is(err, ErrUploadFailed):
			respond.Error(c, http.StatusBadGateway, "upload_failed", "failed to store the image", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to submit analysis", nil)
		}
		return
	}

	respond.JSON(c, http.StatusAccepted, gin.H{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)
	jobID := c.Param("id")
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}

	job, err := h.Svc.Get(c.Request.Context(), ownerID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, job)
}

func (h *Handler) getStatus(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)
	jobID := c.Param("id")
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}

	if !h.limiter.Allow(ownerID, jobID) {
		c.Header("Retry-After", strconv.Itoa(h.limiter.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "poll_too_fast", "status polled too frequently", nil)
		return
	}

	if h.Svc.Cache != nil {
		if payload, err := h.Svc.Cache.Get(c.Request.Context(), jobID); err == nil {
			var doc StatusDoc
			if json.Unmarshal(payload, &doc) == nil && doc.ID == jobID {
				if doc.OwnerID != ownerID {
					respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
					return
				}
				respond.JSON(c, http.StatusOK, doc)
				return
			}
		}
	}

	job, err := h.Svc.Get(c.Request.Context(), ownerID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis status", nil)
		}
		return
	}

	h.Svc.cacheStatus(c.Request.Context(), job)
	respond.JSON(c, http.StatusOK, NewStatusDoc(job))
}

func (h *Handler) getResult(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)
	jobID := c.Param("id")
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}

	waitSeconds := 0
	if v := c.Query("waitSeconds"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "waitSeconds must be a non-negative integer", nil)
			return
		}
		waitSeconds = parsed
	}
	if waitSeconds > maxResultWaitSeconds {
		waitSeconds = maxResultWaitSeconds
	}

	var job Job
	var err error
	if waitSeconds == 0 {
		job, err = h.Svc.Get(c.Request.Context(), ownerID, jobID)
	} else {
		poller := &Poller{
			Fetch: func(ctx context.Context, id string) (Job, error) {
				return h.Svc.Get(ctx, ownerID, id)
			},
			Interval: resultPollInterval,
			MaxWait:  time.Duration(waitSeconds) * time.Second,
		}
		job, err = poller.Wait(c.Request.Context(), jobID)
		if errors.Is(err, ErrPollTimeout) {
			respond.JSON(c, http.StatusAccepted, gin.H{
				"jobId":  job.ID,
				"status": job.Status,
			})
			return
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis result", nil)
		}
		return
	}

	switch job.Status {
	case StatusCompleted:
		respond.JSON(c, http.StatusOK, gin.H{
			"jobId":       job.ID,
			"status":      job.Status,
			"result":      job.Result,
			"completedAt": job.CompletedAt,
		})
	case StatusFailed:
		resp := gin.H{
			"jobId":     job.ID,
			"status":    job.Status,
			"errorCode": job.ErrorCode,
		}
		if job.ErrorMessage != nil {
			resp["error"] = *job.ErrorMessage
		}
		respond.JSON(c, http.StatusOK, resp)
	default:
		respond.JSON(c, http.StatusAccepted, gin.H{
			"jobId":  job.ID,
			"status": job.Status,
		})
	}
}

func (h *Handler) listAnalyses(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.Svc.List(c.Request.Context(), ownerID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}

	resp := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		item := gin.H{
			"jobId":     job.ID,
			"status":    job.Status,
			"condition": job.Condition,
			"createdAt": job.CreatedAt,
		}
		if job.Status == StatusCompleted && job.Result != nil {
			item["generatedTitle"] = job.Result.GeneratedTitle
			item["estimatedValue"] = job.Result.EstimatedValue
		}
		if job.Status == StatusFailed {
			item["errorCode"] = job.ErrorCode
		}
		resp = append(resp, item)
	}

	respond.JSON(c, http.StatusOK, resp)
}
