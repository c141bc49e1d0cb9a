package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classmark-api/internal/models"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
	"github.com/noah-isme/classmark-api/pkg/export"
)

type dayReportRepository interface {
	DayReport(ctx context.Context, classID string, date time.Time) ([]models.DayReportRow, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

// ExportService renders the authoritative day sheet for a class.
type ExportService struct {
	reports dayReportRepository
	classes classReader
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(reports dayReportRepository, classes classReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		reports: reports,
		classes: classes,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// ExportResult carries rendered bytes plus content metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// DaySheet renders the class roster with each student's status for a date.
func (s *ExportService) DaySheet(ctx context.Context, classID, date, format string) (*ExportResult, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrClassNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "class lookup failed")
	}

	rows, err := s.reports.DayReport(ctx, classID, day)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load day report")
	}

	dataset := export.Dataset{Headers: []string{"Student", "Status", "Notes"}}
	for _, row := range rows {
		notes := ""
		if row.Notes != nil {
			notes = *row.Notes
		}
		status := string(row.Status)
		if status == "" {
			status = "-"
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student": row.StudentName,
			"Status":  status,
			"Notes":   notes,
		})
	}

	title := fmt.Sprintf("%s attendance %s", class.Name, date)
	switch format {
	case "pdf":
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{Content: content, ContentType: "application/pdf", Filename: exportFilename(classID, date, "pdf")}, nil
	case "", "csv":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{Content: content, ContentType: "text/csv", Filename: exportFilename(classID, date, "csv")}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported format, expected csv or pdf")
	}
}

func exportFilename(classID, date, ext string) string {
	return fmt.Sprintf("attendance_%s_%s.%s", classID, date, ext)
}
