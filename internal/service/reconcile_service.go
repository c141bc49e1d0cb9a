package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/classmark-api/internal/dto"
	"github.com/noah-isme/classmark-api/internal/models"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
)

const dateLayout = "2006-01-02"

type attendanceRepository interface {
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error)
	StatusMap(ctx context.Context, classID string, date time.Time) ([]models.StatusMapRow, error)
}

type classRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindMember(ctx context.Context, classID, studentID string) (*models.ClassMember, error)
}

type statusMapCache interface {
	GetJSON(ctx context.Context, key string, target interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type reconcileMetrics interface {
	ObserveReconcileBatch(size, synced, failed int)
	ObserveCacheLookup(hit bool)
}

// ReconcileConfig tunes the batch endpoint.
type ReconcileConfig struct {
	// MaxBatchSize rejects batches above this size; zero means unbounded.
	MaxBatchSize      int
	StatusMapCacheTTL time.Duration
}

// ReconcileService applies device-queued attendance marks to the
// authoritative record store and serves the status map read path.
type ReconcileService struct {
	attendance attendanceRepository
	classes    classRepository
	cache      statusMapCache
	metrics    reconcileMetrics
	validator  *validator.Validate
	logger     *zap.Logger
	config     ReconcileConfig
}

// NewReconcileService constructs the service. Cache and metrics are optional.
func NewReconcileService(attendance attendanceRepository, classes classRepository, cache statusMapCache, metrics reconcileMetrics, validate *validator.Validate, logger *zap.Logger, cfg ReconcileConfig) *ReconcileService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ReconcileService{
		attendance: attendance,
		classes:    classes,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		config:     cfg,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// ReconcileBatch applies each submitted mark independently: one item's
// failure never aborts its siblings. Results preserve request order.
// Re-submitting a batch after partial failure is safe; succeeded items
// resolve to an identical overwrite.
func (s *ReconcileService) ReconcileBatch(ctx context.Context, req dto.ReconcileBatchRequest, actorID string) (*dto.ReconcileBatchResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	if s.config.MaxBatchSize > 0 && len(req.Items) > s.config.MaxBatchSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("batch exceeds maximum of %d items", s.config.MaxBatchSize))
	}

	resp := &dto.ReconcileBatchResponse{Results: make([]dto.ReconcileItemResult, len(req.Items))}
	authByClass := map[string]error{}
	touched := map[string]struct{}{}

	for i, item := range req.Items {
		result := s.applyItem(ctx, item, actorID, authByClass)
		resp.Results[i] = result
		if result.Success {
			resp.SyncedCount++
			touched[statusMapKey(item.ClassID, item.Date)] = struct{}{}
		} else {
			resp.FailedCount++
		}
	}

	s.invalidate(ctx, touched)
	if s.metrics != nil {
		s.metrics.ObserveReconcileBatch(len(req.Items), resp.SyncedCount, resp.FailedCount)
	}
	s.logger.Info("reconciled batch",
		zap.String("actor_id", actorID),
		zap.Int("items", len(req.Items)),
		zap.Int("synced", resp.SyncedCount),
		zap.Int("failed", resp.FailedCount),
	)
	return resp, nil
}

// applyItem processes one mark. Panics are contained here so a fault in one
// item is reported as that item's failure.
func (s *ReconcileService) applyItem(ctx context.Context, item dto.ReconcileItem, actorID string, authByClass map[string]error) (result dto.ReconcileItemResult) {
	result.StudentID = item.StudentID
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("reconcile item fault",
				zap.Any("panic", rec),
				zap.String("class_id", item.ClassID),
				zap.String("student_id", item.StudentID),
			)
			result = dto.ReconcileItemResult{StudentID: item.StudentID, Error: appErrors.ErrItemFault.Code}
		}
	}()

	date, err := time.Parse(dateLayout, item.Date)
	if err != nil {
		result.Error = appErrors.ErrValidation.Code
		return result
	}

	if err := s.authorizeCached(ctx, item.ClassID, actorID, authByClass); err != nil {
		result.Error = appErrors.CodeOf(err)
		return result
	}

	// The batch path intentionally does not re-verify that the target
	// student is enrolled; only the single-mark path checks enrollment.
	record := &models.AttendanceRecord{
		ClassID:   item.ClassID,
		StudentID: item.StudentID,
		Date:      date,
		Status:    models.AttendanceStatus(strings.ToUpper(item.Status)),
		Notes:     item.Notes,
		CreatedAt: item.LocalTimestamp.UTC(),
	}
	stored, _, err := s.attendance.Upsert(ctx, record)
	if err != nil {
		s.logger.Warn("reconcile upsert failed", zap.Error(err), zap.String("student_id", item.StudentID))
		result.Error = appErrors.ErrItemFault.Code
		return result
	}
	result.Success = true
	result.RecordID = stored.ID
	return result
}

// authorizeCached memoises the per-class authorization verdict for the
// duration of one batch; the actor is fixed for the whole request.
func (s *ReconcileService) authorizeCached(ctx context.Context, classID, actorID string, memo map[string]error) error {
	if verdict, ok := memo[classID]; ok {
		return verdict
	}
	verdict := s.authorize(ctx, classID, actorID)
	memo[classID] = verdict
	return verdict
}

// authorize allows the class's teacher or a class member flagged as beadle.
func (s *ReconcileService) authorize(ctx context.Context, classID, actorID string) error {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrClassNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrItemFault.Code, appErrors.ErrItemFault.Status, "class lookup failed")
	}
	if class.TeacherID == actorID {
		return nil
	}
	member, err := s.classes.FindMember(ctx, classID, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPermissionDenied, "")
		}
		return appErrors.Wrap(err, appErrors.ErrItemFault.Code, appErrors.ErrItemFault.Status, "membership lookup failed")
	}
	if !member.IsBeadle {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "")
	}
	return nil
}

// MarkSingle is the immediate online path. Unlike the batch path it also
// verifies the target student's enrollment in the class.
func (s *ReconcileService) MarkSingle(ctx context.Context, req dto.MarkRequest, actorID string) (*dto.MarkResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	if err := s.authorize(ctx, req.ClassID, actorID); err != nil {
		return nil, err
	}
	if _, err := s.classes.FindMember(ctx, req.ClassID, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotEnrolled, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "membership lookup failed")
	}

	record := &models.AttendanceRecord{
		ClassID:   req.ClassID,
		StudentID: req.StudentID,
		Date:      date,
		Status:    models.AttendanceStatus(strings.ToUpper(req.Status)),
		Notes:     req.Notes,
	}
	stored, created, err := s.attendance.Upsert(ctx, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark attendance")
	}
	s.invalidate(ctx, map[string]struct{}{statusMapKey(req.ClassID, req.Date): {}})
	return &dto.MarkResponse{RecordID: stored.ID, Created: created}, nil
}

// GetStatusMap returns the authoritative map for (class, date). The second
// return value reports whether the response was served from cache.
func (s *ReconcileService) GetStatusMap(ctx context.Context, classID, date string) (*dto.StatusMapResponse, bool, error) {
	if classID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "class id required")
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	key := statusMapKey(classID, date)
	if s.cache != nil {
		var cached dto.StatusMapResponse
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("status map cache read failed", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.ObserveCacheLookup(hit)
		}
		if hit {
			return &cached, true, nil
		}
	}

	rows, err := s.attendance.StatusMap(ctx, classID, day)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status map")
	}
	resp := &dto.StatusMapResponse{ClassID: classID, Date: date, Statuses: make(map[string]dto.StatusEntry, len(rows))}
	for _, row := range rows {
		resp.Statuses[row.StudentID] = dto.StatusEntry{Status: string(row.Status), RecordID: row.RecordID, Notes: row.Notes}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, resp, s.config.StatusMapCacheTTL); err != nil {
			s.logger.Warn("status map cache write failed", zap.Error(err))
		}
	}
	return resp, false, nil
}

func (s *ReconcileService) invalidate(ctx context.Context, keys map[string]struct{}) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	flat := make([]string, 0, len(keys))
	for key := range keys {
		flat = append(flat, key)
	}
	if err := s.cache.Delete(ctx, flat...); err != nil {
		s.logger.Warn("status map cache invalidation failed", zap.Error(err))
	}
}

func statusMapKey(classID, date string) string {
	return fmt.Sprintf("statusmap:%s:%s", classID, date)
}
