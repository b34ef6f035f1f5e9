// Package confirmsink notifies the clinical backend that an upload has
// landed in object storage, once for a whole batch or once per file for
// real-time append uploads. Grounded on the existing Discord-notification
// code's http.Post-and-check-status-code pattern, generalized to the
// backend's confirmation payload shape instead of a chat embed.
package confirmsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"uploadengine/enginerrors"
)

// batchDataType is the fixed dataType value the backend expects on a batch
// confirmation payload.
const batchDataType = 20

// Sink reports a completed upload to the clinical backend and reports
// whether the backend accepted it.
type Sink interface {
	// ConfirmBatch confirms a whole upload-data unit (a single file or a
	// folder of files) created in one shot.
	ConfirmBatch(ctx context.Context, dataID, uploadDataName, tenantID string, totalBytes int64, objectKey string) (bool, error)

	// ConfirmIncremental confirms one file appended to an upload-data unit
	// that accumulates over time.
	ConfirmIncremental(ctx context.Context, dataID, fileName, tenantID string, fileBytes int64, objectKey string) (bool, error)
}

// HTTPSink posts confirmation payloads to the backend's confirmation
// endpoint as JSON, the same way the rest of this codebase posts outbound
// webhooks: a plain http.Client and a status-code check, no client library.
type HTTPSink struct {
	URL    string
	Client *http.Client
	logger *slog.Logger
}

func NewHTTPSink(url string, logger *slog.Logger) *HTTPSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSink{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With(slog.String("component", "confirmsink")),
	}
}

type batchPayload struct {
	DataID         string `json:"dataId"`
	DataName       string `json:"dataName"`
	UploadDataName string `json:"uploadDataName"`
	TenantID       string `json:"patientId"`
	DataSize       int64  `json:"dataSize"`
	ObjectKey      string `json:"objectKey"`
	DataType       int    `json:"dataType"`
}

type incrementalPayload struct {
	DataID            string `json:"dataId"`
	FileName          string `json:"fileName"`
	TenantID          string `json:"patientId"`
	DataSize          int64  `json:"dataSize"`
	ObjectKey         string `json:"objectKey"`
	IsRawDataInternal int    `json:"isRawDataInternal"`
	DataVersions      []int  `json:"dataVersions"`
}

func (s *HTTPSink) ConfirmBatch(ctx context.Context, dataID, uploadDataName, tenantID string, totalBytes int64, objectKey string) (bool, error) {
	payload := batchPayload{
		DataID:         dataID,
		DataName:       uploadDataName,
		UploadDataName: uploadDataName,
		TenantID:       tenantID,
		DataSize:       totalBytes,
		ObjectKey:      objectKey,
		DataType:       batchDataType,
	}
	return s.post(ctx, payload, dataID)
}

func (s *HTTPSink) ConfirmIncremental(ctx context.Context, dataID, fileName, tenantID string, fileBytes int64, objectKey string) (bool, error) {
	payload := incrementalPayload{
		DataID:            dataID,
		FileName:          fileName,
		TenantID:          tenantID,
		DataSize:          fileBytes,
		ObjectKey:         objectKey,
		IsRawDataInternal: 1,
		DataVersions:      []int{0},
	}
	return s.post(ctx, payload, dataID)
}

func (s *HTTPSink) post(ctx context.Context, payload any, dataID string) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, enginerrors.New(enginerrors.Internal, "failed to encode confirmation payload").
			WithData(dataID).WithCause(err).WithOperation("confirm")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return false, enginerrors.New(enginerrors.ConfirmationFailure, "failed to build confirmation request").
			WithData(dataID).WithCause(err).WithOperation("confirm")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return false, enginerrors.New(enginerrors.ConfirmationFailure, "confirmation request failed").
			WithData(dataID).WithCause(err).WithOperation("confirm")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("confirmation rejected",
			slog.String("data_id", dataID),
			slog.Int("status_code", resp.StatusCode))
		return false, enginerrors.New(enginerrors.ConfirmationFailure, fmt.Sprintf("confirmation rejected with status %d", resp.StatusCode)).
			WithData(dataID).WithOperation("confirm")
	}

	s.logger.Info("confirmation accepted", slog.String("data_id", dataID))
	return true, nil
}
