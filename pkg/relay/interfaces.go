package relay

import "context"

// Sender delivers one notification to one device on a specific platform.
// Implementations absorb every failure mode (transport errors, non-success
// responses, malformed upstream bodies) into the returned PushResult; Send
// never fails in a way that could disturb sibling deliveries.
type Sender interface {
	Send(ctx context.Context, credential string, device DeviceRecord, n Notification) PushResult
}

// CredentialSource produces short-lived publisher credentials for the
// upstream platforms. The credential identifies who is sending; it is never
// tied to an individual device.
type CredentialSource interface {
	// Credential returns a cached, non-expired credential for the platform,
	// generating one synchronously on a cold cache.
	Credential(ctx context.Context, platform Platform) (string, error)
	// Refresh unconditionally generates a fresh credential and overwrites
	// the cached one. Failures are reported, never retried internally.
	Refresh(ctx context.Context, platform Platform) error
}

// DeviceRegistry manages the per-tenant device sets.
type DeviceRegistry interface {
	// List returns the tenant's devices, or an empty slice when the tenant
	// has no entry. It never fails on "not found".
	List(ctx context.Context, tenantID string) ([]DeviceRecord, error)
	// Add upserts a device by its token within the tenant's entry.
	Add(ctx context.Context, tenantID string, record DeviceRecord) error
	// Remove deletes the device with the given token from the tenant's
	// entry, reporting whether one was found.
	Remove(ctx context.Context, tenantID, deviceToken string) (bool, error)
	// RemoveEverywhere scans every tenant entry and removes the token from
	// each one that holds it, returning the number of tenants touched.
	RemoveEverywhere(ctx context.Context, deviceToken string) (int, error)
}

// Pusher is the dispatch entrypoint consumed by the ingress surfaces.
type Pusher interface {
	Dispatch(ctx context.Context, tenantID string, n Notification) ([]PushResult, error)
}
