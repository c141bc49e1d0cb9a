package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classmark-api/internal/service"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
	"github.com/noah-isme/classmark-api/pkg/response"
)

type exportService interface {
	DaySheet(ctx context.Context, classID, date, format string) (*service.ExportResult, error)
}

// ReportHandler serves the class day-sheet export.
type ReportHandler struct {
	service exportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service exportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Export godoc
// @Summary Export a class day sheet as CSV or PDF
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "Class ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {file} binary
// @Router /classes/{id}/attendance/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.service.DaySheet(c.Request.Context(), c.Param("id"), c.Query("date"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
