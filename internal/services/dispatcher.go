package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/betanest/push-dispatch/internal/models"
	"github.com/betanest/push-dispatch/pkg/metrics"
	"github.com/betanest/push-dispatch/pkg/retry"
)

// Messages surfaced to the caller for per-request failures. The wording is
// shared with the mobile client and must not drift.
const (
	msgNotiIDRequired = "notiId is required"
	msgNoTokens       = "등록된 FCM 토큰이 없습니다."
)

// DispatchStore is the store subset the dispatcher touches.
type DispatchStore interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	MarkSent(ctx context.Context, notiID string) error
}

// TokenSource mints (or reuses) the bearer credential for gateway calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Gateway sends one push message to one device token.
type Gateway interface {
	Send(ctx context.Context, accessToken, token string, req *models.DeliveryRequest, payload map[string]string) models.DeliveryOutcome
}

// Options tune the dispatch loop.
type Options struct {
	// FanOutConcurrency caps parallel device sends within one notification.
	FanOutConcurrency int
	// GatewayFailFast aborts the batch when any device send is rejected,
	// instead of recording the failure and continuing.
	GatewayFailFast bool
	// MarkRetry governs retries of the idempotent completion-mark write.
	MarkRetry retry.Config
}

// Dispatcher fans a batch of delivery requests out to every registered device
// of each target user, aggregates per-device outcomes and marks each
// notification sent exactly once.
type Dispatcher struct {
	store       DispatchStore
	credentials TokenSource
	gateway     Gateway
	metrics     *metrics.Metrics
	logger      *slog.Logger
	opts        Options
}

func NewDispatcher(store DispatchStore, credentials TokenSource, gateway Gateway, metricsCollector *metrics.Metrics, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.FanOutConcurrency <= 0 {
		opts.FanOutConcurrency = 4
	}
	return &Dispatcher{
		store:       store,
		credentials: credentials,
		gateway:     gateway,
		metrics:     metricsCollector,
		logger:      logger,
		opts:        opts,
	}
}

// Dispatch processes the batch in input order and returns one result per
// request looked at. A non-nil error means the shared credential could not be
// minted (or fail-fast tripped): the remaining requests are left untouched so
// the next scheduled invocation picks them up again, while requests already
// processed keep their completion marks.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error) {
	results := make([]models.DispatchResult, 0, len(batch))

	for i := range batch {
		req := &batch[i]
		d.metrics.IncDispatched()

		// Nothing to mark for a request without an id; it is reported and
		// skipped.
		if req.NotiID == "" {
			results = append(results, models.DispatchResult{Error: msgNotiIDRequired})
			d.metrics.IncFailed()
			continue
		}

		payload, err := req.MessagePayload()
		if err != nil {
			results = append(results, models.DispatchResult{NotiID: req.NotiID, Error: err.Error()})
			d.metrics.IncFailed()
			continue
		}

		tokens, err := d.store.DeviceTokens(ctx, req.UserID)
		if err != nil || len(tokens) == 0 {
			if err != nil {
				d.logger.Warn("device token lookup failed",
					slog.String("noti_id", req.NotiID),
					slog.String("user_id", req.UserID),
					slog.Any("error", err),
				)
			}
			// Marked sent anyway, otherwise the scheduler would re-deliver
			// to a user with no devices forever.
			d.markSent(ctx, req.NotiID)
			results = append(results, models.DispatchResult{NotiID: req.NotiID, Error: msgNoTokens})
			d.metrics.IncFailed()
			continue
		}

		accessToken, err := d.credentials.AccessToken(ctx)
		if err != nil {
			results = append(results, models.DispatchResult{NotiID: req.NotiID, Error: err.Error()})
			d.metrics.IncFailed()
			return results, err
		}

		outcomes := d.fanOut(ctx, accessToken, req, payload, tokens)

		failed := 0
		for _, outcome := range outcomes {
			if outcome.OK {
				d.metrics.IncDelivered()
			} else {
				failed++
				d.metrics.IncFailed()
			}
		}

		if d.opts.GatewayFailFast && failed > 0 {
			results = append(results, models.DispatchResult{
				NotiID:  req.NotiID,
				Results: outcomes,
				Error:   fmt.Sprintf("%d of %d device sends failed", failed, len(outcomes)),
			})
			return results, fmt.Errorf("gateway rejected %d of %d sends for notification %s", failed, len(outcomes), req.NotiID)
		}

		// All tokens have been attempted; the mark happens exactly once per
		// id regardless of per-device outcome.
		d.markSent(ctx, req.NotiID)
		results = append(results, models.DispatchResult{NotiID: req.NotiID, Results: outcomes})
	}

	return results, nil
}

// fanOut sends to every token with bounded concurrency and waits for all
// outcomes before returning. Outcome order matches token order.
func (d *Dispatcher) fanOut(ctx context.Context, accessToken string, req *models.DeliveryRequest, payload map[string]string, tokens []string) []models.DeliveryOutcome {
	outcomes := make([]models.DeliveryOutcome, len(tokens))

	limit := d.opts.FanOutConcurrency
	if limit > len(tokens) {
		limit = len(tokens)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, token string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = d.gateway.Send(ctx, accessToken, token, req, payload)
		}(i, token)
	}
	wg.Wait()

	return outcomes
}

// markSent performs the idempotent completion write, retrying transient store
// failures. A write that still fails after retries is logged and dropped; the
// row simply reappears on the next collection pass.
func (d *Dispatcher) markSent(ctx context.Context, notiID string) {
	err := retry.Do(ctx, d.opts.MarkRetry, func() error {
		return d.store.MarkSent(ctx, notiID)
	})
	if err != nil {
		d.logger.Error("failed to mark notification sent",
			slog.String("noti_id", notiID),
			slog.Any("error", err),
		)
		return
	}
	d.metrics.IncMarked()
}
