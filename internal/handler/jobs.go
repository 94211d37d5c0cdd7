package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/gate"
	"github.com/pathlane/usage-gate/internal/models"
)

type JobHandler struct {
	gate *gate.Service
}

func NewJobHandler(gateService *gate.Service) *JobHandler {
	return &JobHandler{gate: gateService}
}

// Enqueue accepts a background work item. An Idempotency-Key header makes
// retried submissions return the original job instead of a duplicate.
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req struct {
		TaskType      models.TaskType `json:"task_type" binding:"required"`
		Payload       json.RawMessage `json:"payload"`
		ReservationID string          `json:"reservation_id"`
		Fingerprint   string          `json:"fingerprint"`
		CacheTTLSec   int             `json:"cache_ttl_sec"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.gate.Enqueue(c.Request.Context(), dispatch.EnqueueRequest{
		TaskType:       req.TaskType,
		Payload:        req.Payload,
		UserID:         c.GetString("user_id"),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		ReservationID:  req.ReservationID,
		Fingerprint:    req.Fingerprint,
		CacheTTLSec:    req.CacheTTLSec,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownTaskType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": models.JobPending})
}

func (h *JobHandler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
		return
	}

	job, err := h.gate.JobStatus(c.Request.Context(), id)
	if err != nil {
		if err == dispatch.ErrJobNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Callers only see their own jobs
	if job.UserID != c.GetString("user_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// Cancel withdraws a job that has not started. Running jobs finish their
// attempt; the cancel reports 409 so the caller knows it ran.
func (h *JobHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
		return
	}

	canceled, err := h.gate.CancelJob(c.Request.Context(), id)
	if err != nil {
		if err == dispatch.ErrJobNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !canceled {
		c.JSON(http.StatusConflict, gin.H{"error": "Job already started or finished"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}
