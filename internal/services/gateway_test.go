package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betanest/push-dispatch/internal/models"
	"github.com/betanest/push-dispatch/internal/services"
)

type capturedSend struct {
	path    string
	auth    string
	message struct {
		Token        string `json:"token"`
		Notification struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notification"`
		Data map[string]string `json:"data"`
	}
}

func TestGatewaySendSuccess(t *testing.T) {
	var captured capturedSend
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")

		var body struct {
			Message json.RawMessage `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NoError(t, json.Unmarshal(body.Message, &captured.message))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"projects/proj-1/messages/0:123"}`))
	}))
	defer server.Close()

	gateway := services.NewFCMGateway(server.URL, "proj-1", 5*time.Second, testLogger())
	req := &models.DeliveryRequest{NotiID: "n1", Title: "T", Body: "B", Action: "open"}
	payload := map[string]string{"action": "open", "x": "1"}

	outcome := gateway.Send(context.Background(), "tok-1", "device-1", req, payload)

	assert.Equal(t, "/projects/proj-1/messages:send", captured.path)
	assert.Equal(t, "Bearer tok-1", captured.auth)
	assert.Equal(t, "device-1", captured.message.Token)
	assert.Equal(t, "T", captured.message.Notification.Title)
	assert.Equal(t, "B", captured.message.Notification.Body)
	assert.Equal(t, payload, captured.message.Data)

	assert.Equal(t, "device-1", outcome.Token)
	assert.True(t, outcome.OK)
	assert.JSONEq(t, `{"name":"projects/proj-1/messages/0:123"}`, string(outcome.Response))
	assert.Empty(t, outcome.Error)
}

func TestGatewaySendRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"status":"NOT_FOUND","message":"Requested entity was not found."}}`))
	}))
	defer server.Close()

	gateway := services.NewFCMGateway(server.URL, "proj-1", 5*time.Second, testLogger())
	req := &models.DeliveryRequest{NotiID: "n1", Title: "T", Body: "B"}

	outcome := gateway.Send(context.Background(), "tok-1", "stale-device", req, nil)

	assert.False(t, outcome.OK)
	assert.Equal(t, "stale-device", outcome.Token)
	// The raw gateway body is preserved for the caller.
	assert.Contains(t, string(outcome.Response), "NOT_FOUND")
}

func TestGatewaySendTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	gateway := services.NewFCMGateway(server.URL, "proj-1", time.Second, testLogger())
	req := &models.DeliveryRequest{NotiID: "n1"}

	outcome := gateway.Send(context.Background(), "tok-1", "device-1", req, nil)

	assert.False(t, outcome.OK)
	assert.NotEmpty(t, outcome.Error)
	assert.Nil(t, outcome.Response)
}

func TestGatewaySendNonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	gateway := services.NewFCMGateway(server.URL, "proj-1", time.Second, testLogger())
	req := &models.DeliveryRequest{NotiID: "n1"}

	outcome := gateway.Send(context.Background(), "tok-1", "device-1", req, nil)

	assert.False(t, outcome.OK)
	assert.Equal(t, "upstream unavailable", outcome.Error)
}
