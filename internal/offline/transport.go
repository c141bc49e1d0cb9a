package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classmark-api/internal/dto"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
)

// Reconciler submits one batch of queued marks and returns per-item results.
type Reconciler interface {
	ReconcileBatch(ctx context.Context, items []dto.ReconcileItem) (*dto.ReconcileBatchResponse, error)
}

// HTTPReconciler talks to the sync gateway's batch endpoint. The embedded
// client timeout bounds the whole request; a timeout is reported as a
// transport failure, never silently dropped.
type HTTPReconciler struct {
	baseURL string
	token   func(ctx context.Context) (string, error)
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPReconciler constructs the transport. token supplies the bearer
// token for each request so expiry can be handled by the caller.
func NewHTTPReconciler(baseURL string, token func(ctx context.Context) (string, error), timeout time.Duration, logger *zap.Logger) *HTTPReconciler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPReconciler{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type reconcileEnvelope struct {
	Data  *dto.ReconcileBatchResponse `json:"data"`
	Error *appErrors.Error            `json:"error"`
}

// ReconcileBatch posts the batch and decodes the per-item results.
func (r *HTTPReconciler) ReconcileBatch(ctx context.Context, items []dto.ReconcileItem) (*dto.ReconcileBatchResponse, error) {
	payload, err := json.Marshal(dto.ReconcileBatchRequest{Items: items})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransportFailure.Code, appErrors.ErrTransportFailure.Status, "encode batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/attendance/sync", bytes.NewReader(payload))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransportFailure.Code, appErrors.ErrTransportFailure.Status, "build batch request")
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := r.token(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransportFailure.Code, appErrors.ErrTransportFailure.Status, "obtain token")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransportFailure.Code, appErrors.ErrTransportFailure.Status, "batch request failed")
	}
	defer resp.Body.Close()

	var envelope reconcileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransportFailure.Code, appErrors.ErrTransportFailure.Status, "decode batch response")
	}
	if resp.StatusCode != http.StatusOK || envelope.Data == nil {
		message := fmt.Sprintf("batch rejected with status %d", resp.StatusCode)
		if envelope.Error != nil {
			message = envelope.Error.Message
		}
		r.logger.Warn("batch submission rejected", zap.Int("status", resp.StatusCode), zap.String("message", message))
		return nil, appErrors.Wrap(fmt.Errorf("%s", message), appErrors.ErrTransportFailure.Code, appErrors.ErrTransportFailure.Status, "batch rejected")
	}
	return envelope.Data, nil
}
