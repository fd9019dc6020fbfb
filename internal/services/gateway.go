package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/betanest/push-dispatch/internal/models"
)

// FCMGateway delivers one push message per device token via the FCM HTTP v1
// API, authorized with a bearer token from the minter.
type FCMGateway struct {
	apiURL    string
	projectID string
	client    *http.Client
	logger    *slog.Logger
}

func NewFCMGateway(apiURL, projectID string, timeout time.Duration, logger *slog.Logger) *FCMGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FCMGateway{
		apiURL:    strings.TrimRight(apiURL, "/"),
		projectID: projectID,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// Send posts one message for one token and records the outcome. Transport and
// gateway failures stay local to the token: they land inside the outcome,
// never as a Go error, so one dead token cannot stop its siblings.
func (g *FCMGateway) Send(ctx context.Context, accessToken, token string, req *models.DeliveryRequest, payload map[string]string) models.DeliveryOutcome {
	outcome := models.DeliveryOutcome{Token: token}

	body, err := json.Marshal(map[string]fcmMessage{
		"message": {
			Token: token,
			Notification: fcmNotification{
				Title: req.Title,
				Body:  req.Body,
			},
			Data: payload,
		},
	})
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	endpoint := fmt.Sprintf("%s/projects/%s/messages:send", g.apiURL, g.projectID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	if json.Valid(raw) {
		outcome.Response = json.RawMessage(raw)
	} else if len(raw) > 0 {
		outcome.Error = strings.TrimSpace(string(raw))
	}
	if !outcome.OK {
		if outcome.Response == nil && outcome.Error == "" {
			outcome.Error = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		g.logger.Warn("push send rejected",
			slog.String("noti_id", req.NotiID),
			slog.Int("status", resp.StatusCode),
		)
	}
	return outcome
}
