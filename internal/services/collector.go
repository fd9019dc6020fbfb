package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/betanest/push-dispatch/internal/models"
	"github.com/betanest/push-dispatch/internal/repository"
	"github.com/betanest/push-dispatch/pkg/metrics"
)

// PendingSource is the store view the collector reads.
type PendingSource interface {
	FetchUnsent(ctx context.Context) ([]repository.Notification, error)
}

// Collector builds the dispatch batch from pending notifications and forwards
// it to the dispatch endpoint. It holds no state between passes.
type Collector struct {
	store       PendingSource
	dispatchURL string
	client      *http.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewCollector(store PendingSource, dispatchURL string, timeout time.Duration, metricsCollector *metrics.Metrics, logger *slog.Logger) *Collector {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Collector{
		store:       store,
		dispatchURL: dispatchURL,
		client: &http.Client{
			Timeout: timeout,
		},
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Run performs one collection pass. The dispatcher's status code and body are
// forwarded verbatim; an empty pending set short-circuits with an empty
// result instead of calling the dispatcher.
func (c *Collector) Run(ctx context.Context) (int, []byte, error) {
	rows, err := c.store.FetchUnsent(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("fetching unsent notifications: %w", err)
	}
	if len(rows) == 0 {
		return http.StatusOK, []byte(`{"results":[]}`), nil
	}
	c.metrics.AddCollected(len(rows))

	batch := make([]models.DeliveryRequest, 0, len(rows))
	for _, row := range rows {
		batch = append(batch, models.DeliveryRequest{
			UserID: row.UserID,
			Title:  row.Title,
			Body:   row.Body,
			NotiID: row.ID,
			Action: row.Action,
			Data:   map[string]string(row.Payload),
		})
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return 0, nil, err
	}

	invocationID := uuid.NewString()
	c.logger.Info("dispatching pending notifications",
		slog.String("invocation_id", invocationID),
		slog.Int("count", len(batch)),
		slog.String("url", c.dispatchURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dispatchURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Invocation-ID", invocationID)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling dispatch endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
