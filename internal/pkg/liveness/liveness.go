package liveness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/metrics"
	"github.com/aquabase/tanklink/internal/pkg/model"
)

type database interface {
	SetOnlineStatus(ctx context.Context, deviceID string, online bool) (bool, *model.Device, error)
}

type notifier interface {
	Notify(ctx context.Context, n *model.Notification)
}

// Tracker keeps per-process last-seen times for devices and flips their
// online flag in the store when they go quiet. The map is the hot path;
// store writes only happen on transitions.
type Tracker struct {
	db           database
	notifier     notifier
	offlineAfter time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
	logger       *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func New(db database, notifier notifier, offlineAfter time.Duration, m *metrics.Metrics) *Tracker {
	if offlineAfter <= 0 {
		offlineAfter = 5 * time.Minute
	}
	return &Tracker{
		db:           db,
		notifier:     notifier,
		offlineAfter: offlineAfter,
		metrics:      m,
		now:          time.Now,
		logger:       zap.L(),
		lastSeen:     map[string]time.Time{},
	}
}

// Touch records activity from a device. Devices already tracked as seen
// cost one map write; a device we had lost goes through the full online
// transition in the store.
func (t *Tracker) Touch(ctx context.Context, deviceID string) {
	if deviceID == "" {
		return
	}
	t.mu.Lock()
	_, known := t.lastSeen[deviceID]
	t.lastSeen[deviceID] = t.now()
	t.mu.Unlock()
	if known {
		return
	}

	changed, dev, err := t.db.SetOnlineStatus(ctx, deviceID, true)
	if err != nil {
		t.logger.Warn("online flag update failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return
	}
	if changed && dev != nil {
		t.logger.Info("device back online", zap.String("device_id", deviceID))
		if t.metrics != nil {
			t.metrics.DeviceOnline.WithLabelValues(dev.ID).Set(1)
		}
		t.notifier.Notify(ctx, &model.Notification{
			SpaceID:    dev.SpaceID,
			Type:       model.EventDeviceOnline,
			DeviceID:   dev.ID,
			DeviceName: dev.Name,
			Message:    fmt.Sprintf("%s is back online", dev.Name),
		})
	}
}

// Sweep flips devices quiet past the threshold to offline. Swept entries
// leave the map, so the next report from such a device runs the full online
// transition again and a dead device is only announced once.
func (t *Tracker) Sweep(ctx context.Context) {
	cutoff := t.now().Add(-t.offlineAfter)

	t.mu.Lock()
	var stale []string
	for id, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, id)
			delete(t.lastSeen, id)
		}
	}
	t.mu.Unlock()

	for _, id := range stale {
		changed, dev, err := t.db.SetOnlineStatus(ctx, id, false)
		if err != nil {
			t.logger.Warn("offline flag update failed",
				zap.String("device_id", id),
				zap.Error(err))
			continue
		}
		if changed && dev != nil {
			t.logger.Info("device went offline", zap.String("device_id", id))
			if t.metrics != nil {
				t.metrics.DeviceOnline.WithLabelValues(dev.ID).Set(0)
			}
			t.notifier.Notify(ctx, &model.Notification{
				SpaceID:    dev.SpaceID,
				Type:       model.EventDeviceOffline,
				DeviceID:   dev.ID,
				DeviceName: dev.Name,
				Message:    fmt.Sprintf("%s went offline", dev.Name),
			})
		}
	}
}
