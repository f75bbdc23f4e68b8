// Package registry persists the per-tenant device sets.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/storage/kv"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const (
	devicesKeyPrefix = "devices:"
	scanPageSize     = 100
)

// deviceEntry is the stored form of one tenant's devices.
type deviceEntry struct {
	Devices []relay.DeviceRecord `json:"devices"`
}

// Registry implements relay.DeviceRegistry over a kv.Store.
//
// Add and Remove are read-modify-write over a single stored value with no
// concurrency guard: concurrent mutations of the same tenant can lose an
// update (last store-write wins). An accepted limitation for this domain: a
// re-registration heals a lost write on the next bridge restart.
type Registry struct {
	store  kv.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates the registry.
func NewRegistry(store kv.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With("component", "DeviceRegistry"),
		now:    time.Now,
	}
}

// List returns the tenant's devices. An absent entry is an empty slice, not
// an error.
func (r *Registry) List(ctx context.Context, tenantID string) ([]relay.DeviceRecord, error) {
	entry, err := r.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return entry.Devices, nil
}

// Add upserts the record by device token: an existing record with the same
// token is replaced in place, otherwise the record is appended. A zero
// RegisteredAt is stamped with the current time.
func (r *Registry) Add(ctx context.Context, tenantID string, record relay.DeviceRecord) error {
	if record.RegisteredAt.IsZero() {
		record.RegisteredAt = r.now()
	}

	entry, err := r.load(ctx, tenantID)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range entry.Devices {
		if existing.Token == record.Token {
			entry.Devices[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		entry.Devices = append(entry.Devices, record)
	}

	if err := r.persist(ctx, tenantID, entry); err != nil {
		return err
	}
	r.logger.Debug("Device registered", "platform", record.Platform, "replaced", replaced)
	return nil
}

// Remove deletes the device with the given token, reporting whether one was
// found. Removing the last device deletes the tenant's storage key entirely,
// keeping emptiness and absence equivalent.
func (r *Registry) Remove(ctx context.Context, tenantID, deviceToken string) (bool, error) {
	entry, err := r.load(ctx, tenantID)
	if err != nil {
		return false, err
	}

	kept := entry.Devices[:0]
	found := false
	for _, d := range entry.Devices {
		if d.Token == deviceToken {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return false, nil
	}
	entry.Devices = kept

	if len(entry.Devices) == 0 {
		if err := r.store.Delete(ctx, devicesKey(tenantID)); err != nil {
			return false, fmt.Errorf("delete devices for tenant: %w", err)
		}
		return true, nil
	}
	return true, r.persist(ctx, tenantID, entry)
}

// RemoveEverywhere sweeps every tenant entry and removes the token from each
// one that holds it, following continuation cursors until the scan is
// exhausted. Best-effort: a registration racing the scan may be missed.
func (r *Registry) RemoveEverywhere(ctx context.Context, deviceToken string) (int, error) {
	removed := 0
	cursor := ""
	for {
		keys, next, err := r.store.ListByPrefix(ctx, devicesKeyPrefix, cursor, scanPageSize)
		if err != nil {
			return removed, fmt.Errorf("scan device entries: %w", err)
		}

		for _, key := range keys {
			tenantID := strings.TrimPrefix(key, devicesKeyPrefix)
			found, err := r.Remove(ctx, tenantID, deviceToken)
			if err != nil {
				r.logger.Warn("Failed to purge device token from tenant", "err", err)
				continue
			}
			if found {
				removed++
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	if removed > 0 {
		r.logger.Info("Purged permanently invalid device token", "tenants", removed)
	}
	return removed, nil
}

func (r *Registry) load(ctx context.Context, tenantID string) (deviceEntry, error) {
	var entry deviceEntry
	raw, err := r.store.Get(ctx, devicesKey(tenantID))
	if errors.Is(err, kv.ErrNotFound) {
		return entry, nil
	}
	if err != nil {
		return entry, fmt.Errorf("load devices for tenant: %w", err)
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return entry, fmt.Errorf("decode devices for tenant: %w", err)
	}
	return entry, nil
}

func (r *Registry) persist(ctx context.Context, tenantID string, entry deviceEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode devices for tenant: %w", err)
	}
	if err := r.store.Put(ctx, devicesKey(tenantID), raw, 0); err != nil {
		return fmt.Errorf("store devices for tenant: %w", err)
	}
	return nil
}

func devicesKey(tenantID string) string {
	return devicesKeyPrefix + tenantID
}
