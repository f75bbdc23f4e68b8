// Package relay contains the public interfaces and domain models for the
// push relay service.
package relay

import "time"

// Platform identifies one of the two upstream push networks.
type Platform string

const (
	// PlatformAPNS is Apple's push network. Deliveries are addressed by
	// embedding the device token in the request path.
	PlatformAPNS Platform = "apns"
	// PlatformFCM is Google's push network (FCM v1 API). Deliveries are
	// addressed by a device token field in the request body.
	PlatformFCM Platform = "fcm"
)

// Platforms lists the closed set of supported platforms.
var Platforms = []Platform{PlatformAPNS, PlatformFCM}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return p == PlatformAPNS || p == PlatformFCM
}

// DeviceRecord is one registered device within a tenant's entry.
// The device token is the identity key within a tenant scope.
type DeviceRecord struct {
	Platform     Platform  `json:"platform"`
	Token        string    `json:"device_token"`
	BundleID     string    `json:"bundle_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Notification is the content of a single push.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushStatus classifies the outcome of one delivery attempt.
type PushStatus string

const (
	// StatusSent means the upstream accepted the notification (any 2xx).
	StatusSent PushStatus = "sent"
	// StatusFailed means the delivery failed for a reason that does not
	// condemn the device token (network error, transient upstream rejection,
	// missing publisher credential).
	StatusFailed PushStatus = "failed"
	// StatusRemoved means the upstream reported the device token as
	// permanently invalid; the token has been purged from the registry.
	StatusRemoved PushStatus = "removed"
)

// PushResult is the per-device outcome of a dispatch.
type PushResult struct {
	Platform Platform   `json:"platform"`
	Status   PushStatus `json:"status"`
	Reason   string     `json:"reason,omitempty"`
}

// PushRequest is the wire form of an inbound push, whether it arrives over
// HTTP or through the Pub/Sub ingress pipeline. Token is the bridge token
// scoping (and authorizing) the target tenant's devices.
type PushRequest struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}
