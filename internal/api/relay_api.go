// Package api exposes the three bridge-facing operations over HTTP:
// register, unregister, and push. The bridge token in each request body is
// both the tenant scope and the shared secret authorizing it, so there is no
// separate auth layer. All input validation lives here; the core packages
// assume validated input.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

type RelayAPI struct {
	Registry relay.DeviceRegistry
	Pusher   relay.Pusher
	Logger   *slog.Logger
}

func NewRelayAPI(registry relay.DeviceRegistry, pusher relay.Pusher, logger *slog.Logger) *RelayAPI {
	return &RelayAPI{
		Registry: registry,
		Pusher:   pusher,
		Logger:   logger,
	}
}

// --- Register ---

type RegisterRequest struct {
	Token       string `json:"token"`
	DeviceToken string `json:"device_token"`
	Platform    string `json:"platform"`
	BundleID    string `json:"bundle_id,omitempty"`
}

func (api *RelayAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !api.validateToken(w, req.Token) {
		return
	}
	if req.DeviceToken == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device_token")
		return
	}
	platform := relay.Platform(req.Platform)
	if !platform.Valid() {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	record := relay.DeviceRecord{
		Platform: platform,
		Token:    req.DeviceToken,
		BundleID: req.BundleID,
	}
	if err := api.Registry.Add(ctx, req.Token, record); err != nil {
		api.Logger.Error("failed to register device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Unregister ---

type UnregisterRequest struct {
	Token       string `json:"token"`
	DeviceToken string `json:"device_token"`
}

type UnregisterResponse struct {
	Removed bool `json:"removed"`
}

func (api *RelayAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UnregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !api.validateToken(w, req.Token) {
		return
	}
	if req.DeviceToken == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device_token")
		return
	}

	found, err := api.Registry.Remove(ctx, req.Token, req.DeviceToken)
	if err != nil {
		api.Logger.Error("failed to unregister device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	api.writeJSON(w, http.StatusOK, UnregisterResponse{Removed: found})
}

// --- Push ---

type PushResponse struct {
	Message string             `json:"message,omitempty"`
	Results []relay.PushResult `json:"results"`
}

func (api *RelayAPI) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req relay.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !api.validateToken(w, req.Token) {
		return
	}

	results, err := api.Pusher.Dispatch(ctx, req.Token, relay.Notification{Title: req.Title, Body: req.Body})
	if err != nil {
		api.Logger.Error("dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	resp := PushResponse{Results: results}
	if len(results) == 0 {
		resp.Message = "no devices registered"
	}
	api.writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (api *RelayAPI) validateToken(w http.ResponseWriter, token string) bool {
	if len(token) < pipeline.MinTenantTokenLength {
		response.WriteJSONError(w, http.StatusBadRequest, "bridge token too short")
		return false
	}
	return true
}

func (api *RelayAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		api.Logger.Warn("failed to encode response", "err", err)
	}
}
