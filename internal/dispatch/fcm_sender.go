package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const fcmEndpointFormat = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

// FCMSenderConfig configures the Platform B adapter.
type FCMSenderConfig struct {
	// ProjectID is the Firebase project the relay publishes through.
	ProjectID string
	// Endpoint overrides the FCM v1 send URL for tests; empty means the
	// production endpoint for ProjectID.
	Endpoint string
}

// FCMSender delivers notifications through the FCM v1 HTTP API. The device
// token travels in the request body; the OAuth2 access token from the
// credential manager rides the Authorization header.
type FCMSender struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewFCMSender creates the adapter.
func NewFCMSender(cfg FCMSenderConfig, logger *slog.Logger) *FCMSender {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(fcmEndpointFormat, cfg.ProjectID)
	}
	return &FCMSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "FCMSender"),
	}
}

type fcmSendRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string          `json:"token"`
	Notification fcmNotification `json:"notification"`
	Android      fcmAndroid      `json:"android"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority string `json:"priority"`
}

// fcmErrorBody is the google.rpc error envelope FCM v1 returns.
type fcmErrorBody struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send posts to the per-project messages:send endpoint. Any 2xx is sent; an
// UNREGISTERED or NOT_FOUND error status condemns the token and is reported
// as removed; everything else is failed with the upstream message.
func (s *FCMSender) Send(ctx context.Context, credential string, device relay.DeviceRecord, n relay.Notification) relay.PushResult {
	body, err := json.Marshal(fcmSendRequest{
		Message: fcmMessage{
			Token:        device.Token,
			Notification: fcmNotification{Title: n.Title, Body: n.Body},
			Android:      fcmAndroid{Priority: "high"},
		},
	})
	if err != nil {
		return failed(relay.PlatformFCM, fmt.Sprintf("encode payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return failed(relay.PlatformFCM, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("FCM transport failed", "err", err)
		return failed(relay.PlatformFCM, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return relay.PushResult{Platform: relay.PlatformFCM, Status: relay.StatusSent}
	}

	var fcmErr fcmErrorBody
	if raw, readErr := io.ReadAll(resp.Body); readErr == nil {
		_ = json.Unmarshal(raw, &fcmErr)
	}

	switch fcmErr.Error.Status {
	case "UNREGISTERED", "NOT_FOUND":
		return relay.PushResult{Platform: relay.PlatformFCM, Status: relay.StatusRemoved, Reason: fcmErr.Error.Status}
	}

	reason := fcmErr.Error.Message
	if reason == "" {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	s.logger.Warn("FCM rejected notification", "status", resp.StatusCode, "reason", reason)
	return failed(relay.PlatformFCM, reason)
}
