// Package refresh pre-warms the publisher credential cache on a fixed
// interval, so the dispatch path almost never pays credential-generation
// latency.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// DefaultInterval is shorter than both credential TTLs (50m APNs, 55m FCM),
// so a valid cached credential is almost always in place before expiry.
const DefaultInterval = 45 * time.Minute

// Refresher periodically refreshes the credential for each configured
// platform. Each platform is an independent unit of work: one platform's
// failure is logged and never blocks the other's refresh.
type Refresher struct {
	creds     relay.CredentialSource
	platforms []relay.Platform
	interval  time.Duration
	logger    *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

// NewRefresher schedules refreshes for the given platforms. Pass only the
// platforms whose key material is actually configured.
func NewRefresher(creds relay.CredentialSource, platforms []relay.Platform, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Refresher{
		creds:     creds,
		platforms: platforms,
		interval:  interval,
		logger:    logger.With("component", "CredentialRefresher"),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// Start launches the refresh loop. The first refresh runs immediately so the
// cache is warm before the service reports ready.
func (r *Refresher) Start(ctx context.Context) error {
	if len(r.platforms) == 0 {
		r.logger.Info("No platforms configured; refresher idle")
		close(r.finished)
		return nil
	}

	go func() {
		defer close(r.finished)

		r.RefreshAll(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RefreshAll(ctx)
			case <-ctx.Done():
				return
			case <-r.done:
				return
			}
		}
	}()

	r.logger.Info("Credential refresher started", "interval", r.interval, "platforms", len(r.platforms))
	return nil
}

// Stop halts the loop and waits for any in-flight refresh pass to finish.
func (r *Refresher) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.done) })
	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAll runs one refresh pass over every scheduled platform.
func (r *Refresher) RefreshAll(ctx context.Context) {
	for _, platform := range r.platforms {
		if err := r.creds.Refresh(ctx, platform); err != nil {
			r.logger.Error("Credential refresh failed", "platform", platform, "err", err)
			continue
		}
		r.logger.Debug("Credential refreshed", "platform", platform)
	}
}
