package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cineolabs/cineo-backend/internal/credits"
	"github.com/cineolabs/cineo-backend/internal/http/response"
	"github.com/cineolabs/cineo-backend/internal/pipeline"
	"github.com/cineolabs/cineo-backend/internal/platform/ctxutil"
)

type MovieHandler struct {
	orc *pipeline.Orchestrator
}

func NewMovieHandler(orc *pipeline.Orchestrator) *MovieHandler {
	return &MovieHandler{orc: orc}
}

// POST /api/movies
func (h *MovieHandler) Create(c *gin.Context) {
	var params pipeline.CreateMovieParams
	if err := c.ShouldBindJSON(&params); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		params.IdempotencyKey = key
	}
	userID := ctxutil.GetUserID(c.Request.Context())

	snap, err := h.orc.Submit(c.Request.Context(), userID, params)
	switch {
	case errors.Is(err, pipeline.ErrDuplicateSubmission):
		c.JSON(http.StatusConflict, gin.H{"movie": snap, "code": "duplicate_submission"})
	case errors.Is(err, credits.ErrInsufficientCredits):
		response.RespondError(c, http.StatusPaymentRequired, "insufficient_credits", err)
	case err != nil:
		response.RespondError(c, http.StatusBadRequest, "create_movie_failed", err)
	default:
		response.RespondCreated(c, gin.H{"movie": snap})
	}
}

// GET /api/movies
func (h *MovieHandler) List(c *gin.Context) {
	userID := ctxutil.GetUserID(c.Request.Context())
	movies, err := h.orc.List(c.Request.Context(), userID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_movies_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"movies": movies})
}

// GET /api/movies/:id
func (h *MovieHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_movie_id", err)
		return
	}
	userID := ctxutil.GetUserID(c.Request.Context())
	snap, err := h.orc.Snapshot(c.Request.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "movie_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "get_movie_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"movie": snap})
}

// POST /api/movies/:id/cancel
func (h *MovieHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_movie_id", err)
		return
	}
	userID := ctxutil.GetUserID(c.Request.Context())
	snap, err := h.orc.Cancel(c.Request.Context(), userID, jobID)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "movie_not_found", err)
	case errors.Is(err, pipeline.ErrAlreadyTerminal):
		response.RespondError(c, http.StatusConflict, "movie_already_terminal", err)
	case err != nil:
		response.RespondError(c, http.StatusInternalServerError, "cancel_movie_failed", err)
	default:
		response.RespondOK(c, gin.H{"movie": snap})
	}
}

// POST /api/movies/:id/stages/:stageID/retry
func (h *MovieHandler) RetryStage(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_movie_id", err)
		return
	}
	stageID, err := uuid.Parse(c.Param("stageID"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stage_id", err)
		return
	}
	userID := ctxutil.GetUserID(c.Request.Context())
	snap, err := h.orc.RetryStage(c.Request.Context(), userID, jobID, stageID)
	switch {
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, pipeline.ErrStageNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, pipeline.ErrAlreadyTerminal), errors.Is(err, pipeline.ErrStageNotRetryable):
		response.RespondError(c, http.StatusConflict, "stage_not_retryable", err)
	case err != nil:
		response.RespondError(c, http.StatusInternalServerError, "retry_stage_failed", err)
	default:
		response.RespondOK(c, gin.H{"movie": snap})
	}
}
