package topology

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
)

// ControlSwitch flips one base switch by hand. The command goes out first
// and the store only records what was actually sent.
func (s *service) ControlSwitch(ctx context.Context, ownerID, deviceID string, switchNo model.SwitchNo, status bool) (*model.StateChange, error) {
	if !switchNo.Valid() {
		return nil, fmt.Errorf("switch_no must be BM1 or BM2: %w", model.ErrValidation)
	}
	dev, err := s.ownedDevice(ctx, ownerID, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.Type != model.DeviceTypeBase {
		return nil, fmt.Errorf("device %s is not a base: %w", dev.ID, model.ErrValidation)
	}
	if _, ok := dev.Switch(switchNo); !ok {
		return nil, fmt.Errorf("switch %s/%s: %w", dev.ID, switchNo, model.ErrNotFound)
	}
	thingName := dev.ThingName()
	if thingName == "" {
		return nil, fmt.Errorf("device %s: %w", dev.ID, model.ErrNoAddress)
	}

	if err := s.publisher.PublishControl(thingName, model.ControlPayload{
		DeviceID: dev.ID,
		SwitchNo: switchNo,
		Status:   model.StatusString(status),
	}); err != nil {
		return nil, err
	}
	if err := s.db.UpdateSwitchStatus(ctx, dev.ID, switchNo, status); err != nil {
		return nil, err
	}
	s.logger.Info("switched",
		zap.String("device_id", dev.ID),
		zap.String("switch_no", switchNo.String()),
		zap.Bool("status", status))
	return &model.StateChange{
		Kind:     model.ChangeSwitch,
		DeviceID: dev.ID,
		SpaceID:  dev.SpaceID,
		SwitchNo: switchNo,
		Status:   status,
	}, nil
}

// UpdateTankSettings stores new thresholds and mirrors them to the box. The
// bool reports whether the box confirmed on the update stream before the
// deadline; an unconfirmed write is still persisted.
func (s *service) UpdateTankSettings(ctx context.Context, ownerID, deviceID string, minimum, maximum float64) (bool, error) {
	if minimum < 0 || maximum > 100 || minimum >= maximum {
		return false, fmt.Errorf("thresholds must satisfy 0 <= minimum < maximum <= 100: %w", model.ErrValidation)
	}
	tank, err := s.ownedDevice(ctx, ownerID, deviceID)
	if err != nil {
		return false, err
	}
	if tank.Type != model.DeviceTypeTank || tank.Parent == nil {
		return false, fmt.Errorf("device %s is not an attached tank: %w", tank.ID, model.ErrValidation)
	}
	parent, err := s.db.GetDevice(ctx, tank.Parent.ParentDeviceID)
	if err != nil {
		return false, err
	}
	thingName := parent.ThingName()
	if thingName == "" {
		return false, fmt.Errorf("parent %s: %w", parent.ID, model.ErrNoAddress)
	}

	if err := s.db.UpdateTankThresholds(ctx, tank.ID, minimum, maximum); err != nil {
		return false, err
	}
	if err := s.publisher.PublishSetting(thingName, model.SettingPayload{
		DeviceID: parent.ID,
		SensorNo: tank.Parent.SlaveName,
		SwitchNo: tank.Parent.ParentSwitchNo,
		Maximum:  maximum,
		Minimum:  minimum,
	}); err != nil {
		return false, err
	}

	if _, err := s.awaiter.AwaitResponse(ctx, respstore.Key{
		Subject:  tank.ID,
		Kind:     model.ResponseUpdate,
		SensorNo: tank.Parent.SlaveName,
	}, s.tuning.UpdateFreshness, s.tuning.UpdateDeadline); err != nil {
		if errors.Is(err, model.ErrTimeout) {
			// The box applies settings asynchronously and reports them
			// with its next update, so missing the window is not a failure.
			s.logger.Info("settings unconfirmed",
				zap.String("device_id", tank.ID))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CheckAlive probes a device over MQTT. Tanks are probed through their
// parent base since they have no radio of their own. No reply before the
// deadline means not alive, not an error.
func (s *service) CheckAlive(ctx context.Context, ownerID, deviceID string) (bool, error) {
	dev, err := s.ownedDevice(ctx, ownerID, deviceID)
	if err != nil {
		return false, err
	}
	base := dev
	if dev.Type == model.DeviceTypeTank {
		if dev.Parent == nil {
			return false, fmt.Errorf("tank %s has no parent: %w", dev.ID, model.ErrValidation)
		}
		base, err = s.db.GetDevice(ctx, dev.Parent.ParentDeviceID)
		if err != nil {
			return false, err
		}
	}
	thingName := base.ThingName()
	if thingName == "" {
		return false, fmt.Errorf("device %s: %w", base.ID, model.ErrNoAddress)
	}

	if err := s.publisher.PublishAlive(thingName, model.AlivePayload{DeviceID: base.ID}); err != nil {
		return false, err
	}
	if _, err := s.awaiter.AwaitResponse(ctx, respstore.Key{
		Subject: base.ID,
		Kind:    model.ResponseAlive,
	}, s.tuning.AliveFreshness, s.tuning.AliveDeadline); err != nil {
		if errors.Is(err, model.ErrTimeout) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ApplyUpdate folds one inbound report into the store and describes the
// resulting change. A report naming a sensor slot is a tank level, one
// naming a switch is a base switch state.
func (s *service) ApplyUpdate(ctx context.Context, thingName string, rep model.ReportPayload) (*model.StateChange, error) {
	switch {
	case rep.SensorNo != "":
		return s.applyTankLevel(ctx, thingName, rep)
	case rep.SwitchNo != "":
		return s.applySwitchStatus(ctx, thingName, rep)
	}
	// Some firmware reports a tank level directly under the tank's own id.
	if rep.DeviceID != "" {
		if level, ok := rep.LevelValue(); ok {
			dev, err := s.db.GetDevice(ctx, rep.DeviceID)
			if err != nil {
				return nil, err
			}
			if dev.Type == model.DeviceTypeTank {
				return s.persistLevel(ctx, dev, level)
			}
		}
	}
	return nil, fmt.Errorf("update carries neither sensor_no nor switch_no: %w", model.ErrValidation)
}

func (s *service) applyTankLevel(ctx context.Context, thingName string, rep model.ReportPayload) (*model.StateChange, error) {
	level, ok := rep.LevelValue()
	if !ok {
		return nil, fmt.Errorf("sensor update without level: %w", model.ErrValidation)
	}
	base, err := s.resolveBase(ctx, thingName, rep.DeviceID)
	if err != nil {
		return nil, err
	}
	tanks, err := s.db.ListTanksByParent(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	tank, ok := lo.Find(tanks, func(t model.Device) bool {
		return t.Parent != nil && t.Parent.SlaveName == rep.SensorNo
	})
	if !ok {
		return nil, fmt.Errorf("no tank on %s slot %s: %w", base.ID, rep.SensorNo, model.ErrNotFound)
	}
	return s.persistLevel(ctx, &tank, level)
}

func (s *service) applySwitchStatus(ctx context.Context, thingName string, rep model.ReportPayload) (*model.StateChange, error) {
	if rep.Status == nil {
		return nil, fmt.Errorf("switch update without status: %w", model.ErrValidation)
	}
	base, err := s.resolveBase(ctx, thingName, rep.DeviceID)
	if err != nil {
		return nil, err
	}
	status := rep.Status.Bool()
	if err := s.db.UpdateSwitchStatus(ctx, base.ID, rep.SwitchNo, status); err != nil {
		return nil, err
	}
	return &model.StateChange{
		Kind:     model.ChangeSwitch,
		DeviceID: base.ID,
		SpaceID:  base.SpaceID,
		SwitchNo: rep.SwitchNo,
		Status:   status,
	}, nil
}

func (s *service) persistLevel(ctx context.Context, tank *model.Device, level float64) (*model.StateChange, error) {
	clamped := model.ClampLevel(level)
	if clamped != level {
		s.logger.Warn("clamped out-of-range level",
			zap.String("device_id", tank.ID),
			zap.Float64("reported", level))
	}
	if err := s.db.UpdateTankLevel(ctx, tank.ID, clamped); err != nil {
		return nil, err
	}
	return &model.StateChange{
		Kind:     model.ChangeLevel,
		DeviceID: tank.ID,
		SpaceID:  tank.SpaceID,
		Level:    clamped,
	}, nil
}

// resolveBase finds the base a report belongs to, preferring the topic's
// thing name and falling back to the payload's device id for boxes that
// publish under a stale address.
func (s *service) resolveBase(ctx context.Context, thingName, deviceID string) (*model.Device, error) {
	base, err := s.db.GetBaseByThingName(ctx, thingName)
	if err == nil {
		return base, nil
	}
	if deviceID != "" {
		return s.db.GetDevice(ctx, deviceID)
	}
	return nil, err
}
