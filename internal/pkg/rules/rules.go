package rules

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

type database interface {
	ListActiveSetupsForDevice(ctx context.Context, deviceID string) ([]model.Setup, error)
	GetDevice(ctx context.Context, deviceID string) (*model.Device, error)
	UpdateSwitchStatuses(ctx context.Context, states []model.SwitchState) error
	StampSetupTriggered(ctx context.Context, setupID string, at time.Time) error
}

type commandPublisher interface {
	PublishControl(thingName string, p model.ControlPayload) error
}

type notifier interface {
	Notify(ctx context.Context, n *model.Notification)
}

// Engine runs automation setups against state changes as they come in off
// the broker.
type Engine struct {
	db        database
	publisher commandPublisher
	notifier  notifier
	sleep     func(ctx context.Context, d time.Duration)
	logger    *zap.Logger
}

func New(db database, publisher commandPublisher, notifier notifier) *Engine {
	return &Engine{
		db:        db,
		publisher: publisher,
		notifier:  notifier,
		sleep:     sleepCtx,
		logger:    zap.L(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// OnStateChange evaluates every active setup watching the changed device, in
// creation order, against the state the device just reported. One setup
// failing does not stop the rest. Returns how many setups triggered.
func (e *Engine) OnStateChange(ctx context.Context, ch model.StateChange) (int, error) {
	setups, err := e.db.ListActiveSetupsForDevice(ctx, ch.DeviceID)
	if err != nil {
		return 0, err
	}
	triggered := 0
	for _, setup := range setups {
		if !setup.Condition.Matches(ch) {
			continue
		}
		triggered++
		e.logger.Info("setup triggered",
			zap.String("setup_id", setup.ID),
			zap.String("name", setup.Name),
			zap.String("device_id", ch.DeviceID))
		if err := e.execute(ctx, setup); err != nil {
			e.logger.Error("setup execution failed",
				zap.String("setup_id", setup.ID),
				zap.Error(err))
			continue
		}
		if err := e.db.StampSetupTriggered(ctx, setup.ID, time.Now().UTC()); err != nil {
			e.logger.Warn("could not stamp last_triggered",
				zap.String("setup_id", setup.ID),
				zap.Error(err))
		}
	}
	return triggered, nil
}
