// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/calyxhealth/calyx/internal/logging"
)

// PresenceSource names the users worth reconciling. The realtime
// registry supplies currently-online users; offline users get repaired
// lazily on their next CACHE_MISS.
type PresenceSource interface {
	OnlineUsers() []string
}

// Reconciler periodically recomputes unread counters from notification
// rows for online users, repairing drift left by failed increments.
// Runs as a suture service.
type Reconciler struct {
	svc      *Service
	presence PresenceSource
	interval time.Duration
	logger   zerolog.Logger
}

// NewReconciler creates a reconciler ticking at the given interval.
func NewReconciler(svc *Service, presence PresenceSource, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		svc:      svc,
		presence: presence,
		interval: interval,
		logger:   logging.With().Str("component", "counter-reconciler").Logger(),
	}
}

// String implements suture's service naming.
func (r *Reconciler) String() string { return "counter-reconciler" }

// Serve runs the reconciliation loop until the context is canceled.
func (r *Reconciler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	users := r.presence.OnlineUsers()
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.svc.SyncCountersFromNotifications(ctx, userID); err != nil {
			r.logger.Error().
				Err(err).
				Str("user_id", userID).
				Msg("counter reconciliation failed")
		}
	}
	if len(users) > 0 {
		r.logger.Debug().Int("users", len(users)).Msg("counter reconciliation pass complete")
	}
}
