package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/bloodcell/internal/api/middleware"
	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/service"
)

// multipartOverhead is the slack allowed on top of the image size for multipart framing.
const multipartOverhead = 64 << 10

// AnalysisHandler handles upload, progress and result endpoints.
type AnalysisHandler struct {
	svc            *service.AnalysisService
	maxUploadBytes int64
}

// NewAnalysisHandler creates a new analysis handler.
// Parameters:
//   - svc: analysis orchestrator.
//   - maxUploadBytes: largest accepted image in bytes.
//
// Returns:
//   - *AnalysisHandler: initialized handler.
func NewAnalysisHandler(svc *service.AnalysisService, maxUploadBytes int64) *AnalysisHandler {
	return &AnalysisHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	AnalysisID string       `json:"analysis_id"`
	Status     domain.Stage `json:"status"`
	Message    string       `json:"message"`
}

// Upload handles POST /api/upload.
// The image is read from the multipart field "file" or, for image/* requests, the raw body.
func (h *AnalysisHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	data, err := h.readImage(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, domain.InvalidInput("file too large", nil))
			return
		}
		respondError(c, err)
		return
	}

	id, err := h.svc.Submit(c.Request.Context(), data)
	if err != nil {
		respondError(c, err)
		return
	}

	middleware.GetLogger(c).WithField("analysis_id", id).Info("Upload accepted")
	c.JSON(http.StatusCreated, UploadResponse{
		AnalysisID: id,
		Status:     domain.StageQueued,
		Message:    "File uploaded successfully, analysis started",
	})
}

func (h *AnalysisHandler) readImage(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "image/") {
		return io.ReadAll(c.Request.Body)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, domain.InvalidInput("no file uploaded", err)
	}
	if fh.Size > h.maxUploadBytes {
		return nil, domain.InvalidInput("file too large", nil)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, domain.InvalidInput("cannot read uploaded file", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Progress handles GET /api/progress/:id.
func (h *AnalysisHandler) Progress(c *gin.Context) {
	p, err := h.svc.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Results handles GET /api/results/:id.
// A job that has not completed yields 409 with its current status.
func (h *AnalysisHandler) Results(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	res, err := h.svc.GetResult(ctx, id)
	if err != nil {
		if stage, failure, ok := domain.NotReadyDetail(err); ok {
			body := gin.H{"error": domain.ReasonFrom(err).Message, "code": domain.CodeNotReady, "status": stage}
			if failure != nil {
				body["reason"] = failure
			}
			c.JSON(http.StatusConflict, body)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Image handles GET /api/images/:id and streams the original upload.
func (h *AnalysisHandler) Image(c *gin.Context) {
	body, contentType, err := h.svc.Image(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer body.Close()
	c.DataFromReader(http.StatusOK, -1, contentType, body, map[string]string{
		"Cache-Control": "private, max-age=3600",
	})
}

// Recent handles GET /api/analyses?limit=.
func (h *AnalysisHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	results, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analyses": results,
		"total":    len(results),
	})
}

// Delete handles DELETE /api/analyses/:id.
func (h *AnalysisHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats handles GET /api/stats.
func (h *AnalysisHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Similar handles GET /api/similar/:id?limit=.
func (h *AnalysisHandler) Similar(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	cases, err := h.svc.Similar(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_id": c.Param("id"),
		"enabled":     h.svc.SimilarEnabled(),
		"cases":       cases,
	})
}
