// Package dispatch fans a notification out to every device registered under
// a tenant, one concurrent send per device, and reconciles permanent-failure
// signals back into the device registry.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Dispatcher implements relay.Pusher.
type Dispatcher struct {
	registry relay.DeviceRegistry
	creds    relay.CredentialSource
	senders  map[relay.Platform]relay.Sender
	logger   *slog.Logger
}

// NewDispatcher wires the fan-out over the closed set of platform senders.
func NewDispatcher(
	registry relay.DeviceRegistry,
	creds relay.CredentialSource,
	senders map[relay.Platform]relay.Sender,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		creds:    creds,
		senders:  senders,
		logger:   logger.With("component", "Dispatcher"),
	}
}

// Dispatch delivers the notification to every device registered under the
// tenant. All sends run concurrently and the call returns only once every
// send has produced a result; results are ordered by the registry's device
// order for determinism. A tenant with no devices returns an empty slice and
// makes zero upstream calls. Only a registry read failure fails the whole
// dispatch; per-device and per-platform failures are folded into results.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, n relay.Notification) ([]relay.PushResult, error) {
	log := d.logger.With("dispatch_id", uuid.NewString())

	devices, err := d.registry.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return []relay.PushResult{}, nil
	}

	// One credential fetch per platform present in this dispatch. A
	// credential failure is not a delivery failure: every device on the
	// affected platform reports it verbatim instead of a vague send error.
	creds := make(map[relay.Platform]string)
	credErrs := make(map[relay.Platform]error)
	for _, device := range devices {
		if _, seen := creds[device.Platform]; seen {
			continue
		}
		if _, seen := credErrs[device.Platform]; seen {
			continue
		}
		credential, err := d.creds.Credential(ctx, device.Platform)
		if err != nil {
			log.Error("Credential acquisition failed", "platform", device.Platform, "err", err)
			credErrs[device.Platform] = err
			continue
		}
		creds[device.Platform] = credential
	}

	results := make([]relay.PushResult, len(devices))
	var wg sync.WaitGroup
	for i, device := range devices {
		if err, failed := credErrs[device.Platform]; failed {
			results[i] = relay.PushResult{
				Platform: device.Platform,
				Status:   relay.StatusFailed,
				Reason:   err.Error(),
			}
			continue
		}
		sender, ok := d.senders[device.Platform]
		if !ok {
			results[i] = relay.PushResult{
				Platform: device.Platform,
				Status:   relay.StatusFailed,
				Reason:   fmt.Sprintf("no sender configured for platform %q", device.Platform),
			}
			continue
		}

		wg.Add(1)
		go func(i int, device relay.DeviceRecord, credential string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					// One misbehaving send must not take down its siblings.
					results[i] = relay.PushResult{
						Platform: device.Platform,
						Status:   relay.StatusFailed,
						Reason:   fmt.Sprintf("send panicked: %v", r),
					}
				}
			}()
			results[i] = sender.Send(ctx, credential, device, n)
		}(i, device, creds[device.Platform])
	}
	wg.Wait()

	// Permanent-invalidity signals become a registry-wide purge: the same
	// token may legitimately sit under more than one tenant.
	for i, result := range results {
		if result.Status != relay.StatusRemoved {
			continue
		}
		count, err := d.registry.RemoveEverywhere(ctx, devices[i].Token)
		if err != nil {
			log.Warn("Purge of invalid device token failed", "platform", result.Platform, "err", err)
			continue
		}
		log.Info("Upstream reported device token permanently invalid",
			"platform", result.Platform, "reason", result.Reason, "tenants_purged", count)
	}

	return results, nil
}
