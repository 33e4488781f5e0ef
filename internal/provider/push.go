package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/job"
)

// PushAdapter delivers push notifications by POSTing an envelope to a
// push gateway (FCM proxy or compatible). The gateway's own wire
// protocol stays behind this boundary.
type PushAdapter struct {
	client     *http.Client
	gatewayURL string
	logger     *zap.Logger
}

type PushConfig struct {
	GatewayURL string
	Timeout    time.Duration
}

// pushEnvelope is the JSON body posted to the gateway.
type pushEnvelope struct {
	Token string            `json:"token"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NewPushAdapter creates a push adapter for the configured gateway.
func NewPushAdapter(cfg PushConfig, logger *zap.Logger) *PushAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &PushAdapter{
		client: &http.Client{
			Timeout: timeout,
		},
		gatewayURL: cfg.GatewayURL,
		logger:     logger,
	}
}

// Send posts the job to the push gateway. Any non-2xx response is a
// failed attempt.
func (a *PushAdapter) Send(ctx context.Context, j *job.NotificationJob) (Result, error) {
	if j.Channel != job.ChannelPush {
		return Result{}, fmt.Errorf("push adapter only supports push, got: %s", j.Channel)
	}
	if a.gatewayURL == "" {
		return Result{}, fmt.Errorf("push gateway not configured")
	}

	envelope := pushEnvelope{
		Token: j.Recipient,
		Title: j.Subject,
		Body:  j.Body,
		Data:  j.TemplateData,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return Result{}, fmt.Errorf("marshal push envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create push request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Courier/1.0")
	req.Header.Set("X-Courier-Job-ID", j.ID.String())

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("push gateway returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	// The gateway echoes an id when it has one; tolerate anything else.
	var gatewayResp struct {
		MessageID string `json:"message_id"`
	}
	_ = json.Unmarshal(bodyBytes, &gatewayResp)

	a.logger.Info("push delivered",
		zap.String("id", j.ID.String()),
		zap.Int("status_code", resp.StatusCode),
	)

	return Result{MessageID: gatewayResp.MessageID}, nil
}

func (a *PushAdapter) SupportsChannel(channel string) bool {
	return channel == job.ChannelPush
}
