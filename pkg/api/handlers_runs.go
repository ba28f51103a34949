package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"randooprun/pkg/models"
	"randooprun/pkg/scheduler"
)

// RunResponse is the API representation of a finished run.
type RunResponse struct {
	ID           uuid.UUID      `json:"id"`
	Package      string         `json:"package"`
	Outcome      models.Outcome `json:"outcome"`
	ExitCode     int            `json:"exit_code"`
	Killed       bool           `json:"killed"`
	DurationMS   int64          `json:"duration_ms"`
	Classes      int            `json:"classes"`
	Warnings     int            `json:"warnings"`
	Error        string         `json:"error,omitempty"`
	LogReference string         `json:"log_reference,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

func toRunResponse(rec *models.RunRecord) RunResponse {
	return RunResponse{
		ID:           rec.ID,
		Package:      rec.PackageName,
		Outcome:      rec.Verdict.Outcome,
		ExitCode:     rec.Verdict.ExitCode,
		Killed:       rec.Verdict.Killed,
		DurationMS:   rec.Verdict.Duration.Milliseconds(),
		Classes:      rec.Classes,
		Warnings:     rec.Warnings,
		Error:        rec.Error,
		LogReference: rec.LogReference,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}
}

// listRuns handles GET /api/v1/runs?package=&limit=
func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records := s.history.List(c.Query("package"), limit)
	out := make([]RunResponse, len(records))
	for i, rec := range records {
		out[i] = toRunResponse(rec)
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "count": len(out)})
}

// getRun handles GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	rec, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toRunResponse(rec))
}

// getRunLog handles GET /api/v1/runs/:id/log
func (s *Server) getRunLog(c *gin.Context) {
	rec, ok := s.lookup(c)
	if !ok {
		return
	}
	if s.logStore == nil || rec.LogReference == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no log stored for run"})
		return
	}

	data, err := s.logStore.Retrieve(c.Request.Context(), rec.LogReference)
	if err != nil {
		s.log.Warn("Failed to retrieve run log", zap.String("reference", rec.LogReference), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to retrieve log"})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

func (s *Server) lookup(c *gin.Context) (*models.RunRecord, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return nil, false
	}
	rec, ok := s.history.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	}
	return rec, true
}

// triggerRound handles POST /api/v1/trigger. The round runs in the
// background; its records show up under /runs as they finish.
func (s *Server) triggerRound(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "manual triggers are not enabled"})
		return
	}
	done, err := s.trigger.Launch(s.baseCtx)
	switch {
	case errors.Is(err, scheduler.ErrRoundInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "a generation round is already running"})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if err := <-done; err != nil && !errors.Is(err, s.baseCtx.Err()) {
			s.log.Error("Triggered round failed", zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}
