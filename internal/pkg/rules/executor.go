package rules

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

type pendingKey struct {
	deviceID string
	switchNo model.SwitchNo
}

// execution carries the optimistic view of switch states built up while one
// setup's actions run. Later actions see earlier writes, but nothing lands
// in the store until the whole list has had its turn.
type execution struct {
	order []model.SwitchState
	index map[pendingKey]int
}

func newExecution() *execution {
	return &execution{index: map[pendingKey]int{}}
}

func (x *execution) record(st model.SwitchState) {
	key := pendingKey{deviceID: st.DeviceID, switchNo: st.SwitchNo}
	if i, ok := x.index[key]; ok {
		x.order[i] = st
		return
	}
	x.index[key] = len(x.order)
	x.order = append(x.order, st)
}

func (x *execution) status(dev *model.Device, switchNo model.SwitchNo) (bool, bool) {
	if i, ok := x.index[pendingKey{deviceID: dev.ID, switchNo: switchNo}]; ok {
		return x.order[i].Status, true
	}
	sw, ok := dev.Switch(switchNo)
	if !ok {
		return false, false
	}
	return sw.Status, true
}

// execute runs a setup's actions in order. Each action resolves its target
// fresh, so a delayed action sees the world as it is after the wait. A
// failed action is skipped on its own; the survivors commit in one batch.
// Committed states go straight to the store, they never feed back into
// evaluation.
func (e *Engine) execute(ctx context.Context, setup model.Setup) error {
	x := newExecution()
	for i, action := range setup.Actions {
		if err := e.runAction(ctx, setup, action, x); err != nil {
			e.logger.Warn("setup action skipped",
				zap.String("setup_id", setup.ID),
				zap.Int("position", i),
				zap.String("device_id", action.DeviceID),
				zap.Error(err))
		}
	}
	if len(x.order) == 0 {
		return nil
	}
	return e.db.UpdateSwitchStatuses(ctx, x.order)
}

func (e *Engine) runAction(ctx context.Context, setup model.Setup, action model.Action, x *execution) error {
	if action.DelaySecs > 0 {
		e.sleep(ctx, time.Duration(action.DelaySecs)*time.Second)
	}

	dev, err := e.db.GetDevice(ctx, action.DeviceID)
	if err != nil {
		return err
	}
	if dev.Type != model.DeviceTypeBase {
		return fmt.Errorf("action target %s is not a base: %w", dev.ID, model.ErrValidation)
	}
	current, ok := x.status(dev, action.SwitchNo)
	if !ok {
		return fmt.Errorf("switch %s/%s: %w", dev.ID, action.SwitchNo, model.ErrNotFound)
	}
	if current == action.SetStatus {
		// Already where the action wants it, publishing again would just
		// bounce the relay.
		return nil
	}
	thingName := dev.ThingName()
	if thingName == "" {
		return fmt.Errorf("device %s: %w", dev.ID, model.ErrNoAddress)
	}

	if err := e.publisher.PublishControl(thingName, model.ControlPayload{
		DeviceID: dev.ID,
		SwitchNo: action.SwitchNo,
		Status:   model.StatusString(action.SetStatus),
		Trigger:  setup.Name,
	}); err != nil {
		return err
	}
	x.record(model.SwitchState{DeviceID: dev.ID, SwitchNo: action.SwitchNo, Status: action.SetStatus})

	prev := current
	next := action.SetStatus
	e.notifier.Notify(ctx, &model.Notification{
		SpaceID:        setup.SpaceID,
		Type:           model.EventSetupAction,
		DeviceID:       dev.ID,
		DeviceName:     dev.Name,
		SwitchNo:       action.SwitchNo,
		RuleName:       setup.Name,
		PreviousStatus: &prev,
		NewStatus:      &next,
		Message:        fmt.Sprintf("%s turned %s %s %s", setup.Name, dev.Name, action.SwitchNo, model.StatusString(next)),
	})
	return nil
}
