package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/service"
)

// ExplanationHandler handles explanation and follow-up endpoints.
type ExplanationHandler struct {
	svc *service.AnalysisService
}

// NewExplanationHandler creates a new explanation handler.
func NewExplanationHandler(svc *service.AnalysisService) *ExplanationHandler {
	return &ExplanationHandler{svc: svc}
}

// Explain handles POST /api/medical-explanation/:id.
func (h *ExplanationHandler) Explain(c *gin.Context) {
	text, err := h.svc.Explain(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"explanation": text})
}

// FollowUpRequest is the body of POST /api/follow-up-question.
type FollowUpRequest struct {
	AnalysisID string `json:"analysis_id" binding:"required"`
	Question   string `json:"question" binding:"required"`
}

// FollowUp handles POST /api/follow-up-question.
func (h *ExplanationHandler) FollowUp(c *gin.Context) {
	var req FollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.InvalidInput("Invalid request: "+err.Error(), err))
		return
	}
	answer, err := h.svc.FollowUp(c.Request.Context(), req.AnalysisID, req.Question)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

// FollowUps handles GET /api/follow-up-questions/:id.
func (h *ExplanationHandler) FollowUps(c *gin.Context) {
	id := c.Param("id")
	history, err := h.svc.FollowUps(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_id": id,
		"questions":   history,
	})
}
