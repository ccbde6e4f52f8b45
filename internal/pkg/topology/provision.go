package topology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
)

type RegisterBaseInput struct {
	SpaceID   string
	OwnerID   string
	DeviceID  string
	Name      string
	ThingName string
}

// RegisterBase provisions a base box with its two switch slots. When no
// thing name is supplied one is derived from the device name and id, and the
// same address lands on both slots.
func (s *service) RegisterBase(ctx context.Context, input RegisterBaseInput) (*model.Device, error) {
	if input.DeviceID == "" || input.Name == "" {
		return nil, fmt.Errorf("base needs device_id and name: %w", model.ErrValidation)
	}
	if _, err := s.ownedSpace(ctx, input.OwnerID, input.SpaceID); err != nil {
		return nil, err
	}
	if err := s.checkDeviceID(ctx, input.OwnerID, input.DeviceID); err != nil {
		return nil, err
	}

	thingName := input.ThingName
	if thingName == "" {
		thingName = slug.Make(fmt.Sprintf("%s-%s", input.Name, input.DeviceID))
	}

	now := time.Now().UTC()
	dev := &model.Device{
		ID:      input.DeviceID,
		SpaceID: input.SpaceID,
		OwnerID: input.OwnerID,
		Type:    model.DeviceTypeBase,
		Name:    input.Name,
		Online:  true,
		Switches: []model.Switch{
			{No: model.SwitchBM1, Status: false, ThingName: thingName},
			{No: model.SwitchBM2, Status: false, ThingName: thingName},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateBase(ctx, dev); err != nil {
		return nil, err
	}
	s.logger.Info("registered base",
		zap.String("device_id", dev.ID),
		zap.String("thing_name", thingName))
	return dev, nil
}

// checkDeviceID enforces global device id uniqueness, distinguishing a
// re-registration by the same owner from an id already claimed elsewhere.
func (s *service) checkDeviceID(ctx context.Context, ownerID, deviceID string) error {
	existing, err := s.db.GetDevice(ctx, deviceID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.OwnerID == ownerID {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrDuplicateDevice)
	}
	return fmt.Errorf("device %s: %w", deviceID, model.ErrDeviceClaimed)
}

type AttachTankInput struct {
	ParentDeviceID string
	OwnerID        string
	DeviceID       string
	Name           string
	Minimum        float64
	Maximum        float64
	// Mode selects the pairing flow, wifi unless the caller asks for the
	// without-wifi variant. Range is the sensor's calibrated depth in cm,
	// Capacity the tank volume in litres; both ride along for the firmware.
	Mode     int
	Range    float64
	Capacity float64
}

// AttachTank pairs a tank sensor with its base box: pick the first free
// slot, ask the box over slave_request, and only create the tank once the
// box acknowledges. A pairing timeout leaves no trace.
func (s *service) AttachTank(ctx context.Context, input AttachTankInput) (*model.Device, error) {
	if input.DeviceID == "" || input.Name == "" {
		return nil, fmt.Errorf("tank needs device_id and name: %w", model.ErrValidation)
	}
	if input.Minimum != 0 || input.Maximum != 0 {
		if input.Minimum < 0 || input.Maximum > 100 || input.Minimum >= input.Maximum {
			return nil, fmt.Errorf("thresholds must satisfy 0 <= minimum < maximum <= 100: %w", model.ErrValidation)
		}
	}
	mode := input.Mode
	if mode == 0 {
		mode = model.SlaveModeWifi
	}
	if mode != model.SlaveModeWifi && mode != model.SlaveModeWithoutWifi {
		return nil, fmt.Errorf("pairing mode must be %d or %d: %w", model.SlaveModeWifi, model.SlaveModeWithoutWifi, model.ErrValidation)
	}

	parent, err := s.ownedDevice(ctx, input.OwnerID, input.ParentDeviceID)
	if err != nil {
		return nil, err
	}
	if parent.Type != model.DeviceTypeBase {
		return nil, fmt.Errorf("parent %s is not a base device: %w", parent.ID, model.ErrValidation)
	}
	if err := s.checkDeviceID(ctx, input.OwnerID, input.DeviceID); err != nil {
		return nil, err
	}

	tanks, err := s.db.ListTanksByParent(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	switchNo, slaveName, err := FreeSlot(tanks)
	if err != nil {
		return nil, fmt.Errorf("parent %s: %w", parent.ID, err)
	}

	thingName := parent.ThingName()
	if thingName == "" {
		return nil, fmt.Errorf("parent %s: %w", parent.ID, model.ErrNoAddress)
	}

	if err := s.publisher.PublishSlaveRequest(thingName, model.SlaveRequestPayload{
		DeviceID: parent.ID,
		SlaveNo:  slaveName,
		Mode:     mode,
		Range:    input.Range,
		Capacity: input.Capacity,
	}); err != nil {
		return nil, err
	}

	// The box has to acknowledge the pairing before the tank exists for us.
	if _, err := s.awaiter.AwaitResponse(ctx, respstore.Key{
		Subject: thingName,
		Kind:    model.ResponseSlave,
	}, s.tuning.SlaveFreshness, s.tuning.SlaveDeadline); err != nil {
		return nil, fmt.Errorf("pairing %s on %s: %w", slaveName, parent.ID, err)
	}

	now := time.Now().UTC()
	tank := &model.Device{
		ID:      input.DeviceID,
		SpaceID: parent.SpaceID,
		OwnerID: input.OwnerID,
		Type:    model.DeviceTypeTank,
		Name:    input.Name,
		Online:  true,
		Parent: &model.TankAttachment{
			ParentDeviceID: parent.ID,
			ParentSwitchNo: switchNo,
			SlaveName:      slaveName,
		},
		Minimum:   input.Minimum,
		Maximum:   input.Maximum,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateTank(ctx, tank); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, &model.Notification{
		SpaceID:    parent.SpaceID,
		Type:       model.EventSlaveAdded,
		DeviceID:   tank.ID,
		DeviceName: tank.Name,
		Message:    fmt.Sprintf("%s paired on %s slot %s", tank.Name, parent.Name, slaveName),
	})
	s.logger.Info("attached tank",
		zap.String("device_id", tank.ID),
		zap.String("parent_device_id", parent.ID),
		zap.String("slave_name", slaveName.String()))
	return tank, nil
}

// DetachDevice removes a device. Tanks get a best-effort reset sent to
// their box first; bases refuse to go while tanks still hang off them.
func (s *service) DetachDevice(ctx context.Context, ownerID, deviceID string) error {
	dev, err := s.ownedDevice(ctx, ownerID, deviceID)
	if err != nil {
		return err
	}

	switch dev.Type {
	case model.DeviceTypeTank:
		return s.detachTank(ctx, dev)
	case model.DeviceTypeBase:
		tanks, err := s.db.ListTanksByParent(ctx, dev.ID)
		if err != nil {
			return err
		}
		if len(tanks) > 0 {
			return fmt.Errorf("base %s has %d attached tanks: %w", dev.ID, len(tanks), model.ErrHasDependents)
		}
		return s.db.DeleteDevice(ctx, dev.ID)
	}
	return fmt.Errorf("device %s has unknown type %q: %w", dev.ID, dev.Type, model.ErrValidation)
}

func (s *service) detachTank(ctx context.Context, tank *model.Device) error {
	if tank.Parent != nil {
		parent, err := s.db.GetDevice(ctx, tank.Parent.ParentDeviceID)
		if err == nil {
			if thingName := parent.ThingName(); thingName != "" {
				// An unreachable box must not block removal.
				if err := s.publisher.PublishReset(thingName, model.ResetPayload{
					DeviceID: parent.ID,
					SlaveNo:  tank.Parent.SlaveName,
					SlaveID:  tank.ID,
				}); err != nil {
					s.logger.Warn("reset publish failed, removing tank anyway",
						zap.String("device_id", tank.ID),
						zap.Error(err))
				}
			}
		}
	}
	return s.db.DeleteDevice(ctx, tank.ID)
}
