// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package supervisor

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calyxhealth/calyx/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// countingService records how many times it was started.
type countingService struct {
	starts atomic.Int32
	fail   atomic.Bool
}

func (s *countingService) String() string { return "counting-service" }

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.fail.Load() {
		s.fail.Store(false)
		return errors.New("transient failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func waitForStarts(t *testing.T, svc *countingService, want int32) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for svc.starts.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("starts = %d, want >= %d", svc.starts.Load(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	svc := &countingService{}
	tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitForStarts(t, svc, 1)
	cancel()

	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	svc := &countingService{}
	svc.fail.Store(true)
	tree.AddMaintenanceService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	// First run fails, the supervisor restarts it.
	waitForStarts(t, svc, 2)
}
