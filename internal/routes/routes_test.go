package routes_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betanest/push-dispatch/internal/models"
	"github.com/betanest/push-dispatch/internal/routes"
	"github.com/betanest/push-dispatch/internal/services"
	"github.com/betanest/push-dispatch/pkg/metrics"
)

type dispatcherFunc func(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error) {
	return f(ctx, batch)
}

type collectorFunc func(ctx context.Context) (int, []byte, error)

func (f collectorFunc) Run(ctx context.Context) (int, []byte, error) {
	return f(ctx)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(d routes.Dispatcher, c routes.Collector) http.Handler {
	return routes.NewRouter(d, c, metrics.New(), testLogger(), time.Now())
}

func TestDispatchEndpointAcceptsSingleObject(t *testing.T) {
	var got []models.DeliveryRequest
	router := newTestRouter(dispatcherFunc(func(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error) {
		got = batch
		return []models.DispatchResult{{NotiID: "n1", Results: []models.DeliveryOutcome{{Token: "t1", OK: true}}}}, nil
	}), nil)

	body := `{"userId":"u1","notiId":"n1","title":"T","body":"B","action":"open","data":{"x":"1"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].NotiID)

	var resp models.DispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "n1", resp.Results[0].NotiID)
	assert.Equal(t, "t1", resp.Results[0].Results[0].Token)
}

func TestDispatchEndpointAcceptsArray(t *testing.T) {
	var got []models.DeliveryRequest
	router := newTestRouter(dispatcherFunc(func(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error) {
		got = batch
		return nil, nil
	}), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(`[{"notiId":"n1"},{"notiId":"n2"}]`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, got, 2)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestDispatchEndpointMalformedBody(t *testing.T) {
	router := newTestRouter(dispatcherFunc(func(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error) {
		t.Fatal("dispatcher must not run for malformed input")
		return nil, nil
	}), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestDispatchEndpointCredentialFailure(t *testing.T) {
	router := newTestRouter(dispatcherFunc(func(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error) {
		return []models.DispatchResult{{NotiID: "n1", Error: "credential minting failed"}},
			fmt.Errorf("%w: token endpoint returned 401", services.ErrCredential)
	}), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(`[{"notiId":"n1"}]`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp models.DispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "n1", resp.Results[0].NotiID)
	assert.Contains(t, resp.Error, "token endpoint returned 401")
}

func TestDispatchEndpointPanicContained(t *testing.T) {
	router := newTestRouter(dispatcherFunc(func(ctx context.Context, batch []models.DeliveryRequest) ([]models.DispatchResult, error) {
		panic("boom")
	}), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(`[{"notiId":"n1"}]`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestCronEndpointForwardsCollectorOutput(t *testing.T) {
	router := newTestRouter(nil, collectorFunc(func(ctx context.Context) (int, []byte, error) {
		return http.StatusOK, []byte(`{"results":[{"notiId":"n1","results":[]}]}`), nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/cron/notify", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"notiId":"n1"`)
}

func TestCronEndpointCollectorFailure(t *testing.T) {
	router := newTestRouter(nil, collectorFunc(func(ctx context.Context) (int, []byte, error) {
		return 0, nil, fmt.Errorf("fetching unsent notifications: rpc failed")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/cron/notify", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "rpc failed")
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dispatched"`)
}
