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

const (
	// APNs provider API hosts. The device token is addressed in the request
	// path; the publisher credential rides the authorization header.
	apnsHostProduction = "https://api.push.apple.com"
	apnsHostSandbox    = "https://api.sandbox.push.apple.com"
)

// APNSSenderConfig configures the Platform A adapter.
type APNSSenderConfig struct {
	// DefaultTopic is the app bundle ID used when a device record carries
	// none of its own.
	DefaultTopic string
	// Sandbox selects the development gateway.
	Sandbox bool
}

// APNSSender delivers one notification per HTTP/2 request to APNs.
type APNSSender struct {
	host   string
	topic  string
	client *http.Client
	logger *slog.Logger
}

// NewAPNSSender creates the adapter. APNs requires HTTP/2, which the default
// transport negotiates over TLS.
func NewAPNSSender(cfg APNSSenderConfig, logger *slog.Logger) *APNSSender {
	host := apnsHostProduction
	if cfg.Sandbox {
		host = apnsHostSandbox
	}
	return &APNSSender{
		host:   host,
		topic:  cfg.DefaultTopic,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "APNSSender"),
	}
}

type apnsPayload struct {
	APS apnsAPS `json:"aps"`
}

type apnsAPS struct {
	Alert apnsAlert `json:"alert"`
}

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// apnsErrorBody is the JSON APNs returns on non-success responses.
type apnsErrorBody struct {
	Reason string `json:"reason"`
}

// Send posts to /3/device/<token>. Any 2xx is sent; 410 means the token is
// permanently gone and is reported as removed so the dispatcher can purge it;
// everything else is failed with the upstream reason.
func (s *APNSSender) Send(ctx context.Context, credential string, device relay.DeviceRecord, n relay.Notification) relay.PushResult {
	payload, err := json.Marshal(apnsPayload{APS: apnsAPS{Alert: apnsAlert{Title: n.Title, Body: n.Body}}})
	if err != nil {
		return failed(relay.PlatformAPNS, fmt.Sprintf("encode payload: %v", err))
	}

	url := s.host + "/3/device/" + device.Token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return failed(relay.PlatformAPNS, fmt.Sprintf("build request: %v", err))
	}

	topic := device.BundleID
	if topic == "" {
		topic = s.topic
	}
	req.Header.Set("Authorization", "bearer "+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("APNs transport failed", "err", err)
		return failed(relay.PlatformAPNS, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return relay.PushResult{Platform: relay.PlatformAPNS, Status: relay.StatusSent}
	}

	var apnsErr apnsErrorBody
	if body, readErr := io.ReadAll(resp.Body); readErr == nil {
		_ = json.Unmarshal(body, &apnsErr)
	}

	if resp.StatusCode == http.StatusGone {
		reason := apnsErr.Reason
		if reason == "" {
			reason = "Unregistered"
		}
		return relay.PushResult{Platform: relay.PlatformAPNS, Status: relay.StatusRemoved, Reason: reason}
	}

	reason := apnsErr.Reason
	if reason == "" {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	s.logger.Warn("APNs rejected notification", "status", resp.StatusCode, "reason", reason)
	return failed(relay.PlatformAPNS, reason)
}

func failed(platform relay.Platform, reason string) relay.PushResult {
	return relay.PushResult{Platform: platform, Status: relay.StatusFailed, Reason: reason}
}
