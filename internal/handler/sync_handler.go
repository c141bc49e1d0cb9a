package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classmark-api/internal/dto"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
	"github.com/noah-isme/classmark-api/pkg/response"
)

type reconcileService interface {
	ReconcileBatch(ctx context.Context, req dto.ReconcileBatchRequest, actorID string) (*dto.ReconcileBatchResponse, error)
	MarkSingle(ctx context.Context, req dto.MarkRequest, actorID string) (*dto.MarkResponse, error)
	GetStatusMap(ctx context.Context, classID, date string) (*dto.StatusMapResponse, bool, error)
}

// SyncHandler exposes the batch reconciliation protocol and its read path.
type SyncHandler struct {
	service reconcileService
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(service reconcileService) *SyncHandler {
	return &SyncHandler{service: service}
}

// Reconcile godoc
// @Summary Reconcile a batch of device-queued attendance marks
// @Tags Sync
// @Accept json
// @Produce json
// @Param payload body dto.ReconcileBatchRequest true "Queued marks"
// @Success 200 {object} response.Envelope
// @Router /attendance/sync [post]
func (h *SyncHandler) Reconcile(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ReconcileBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid JSON payload"))
		return
	}

	result, err := h.service.ReconcileBatch(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Mark godoc
// @Summary Mark a single student's attendance (online path)
// @Tags Sync
// @Accept json
// @Produce json
// @Param payload body dto.MarkRequest true "Attendance mark"
// @Success 200 {object} response.Envelope
// @Router /attendance/marks [post]
func (h *SyncHandler) Mark(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid JSON payload"))
		return
	}

	result, err := h.service.MarkSingle(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// StatusMap godoc
// @Summary Authoritative per-student status for a class and date
// @Tags Sync
// @Produce json
// @Param classId query string true "Class ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/status [get]
func (h *SyncHandler) StatusMap(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, cacheHit, err := h.service.GetStatusMap(c.Request.Context(), c.Query("classId"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"cache_hit": cacheHit}
	response.JSON(c, http.StatusOK, result, meta)
}
