package topology

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/config"
	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
)

type database interface {
	CreateSpace(ctx context.Context, space *model.Space) error
	GetSpace(ctx context.Context, spaceID string) (*model.Space, error)
	ListSpaces(ctx context.Context, ownerID string) ([]model.Space, error)
	CreateBase(ctx context.Context, dev *model.Device) error
	CreateTank(ctx context.Context, dev *model.Device) error
	GetDevice(ctx context.Context, deviceID string) (*model.Device, error)
	GetBaseByThingName(ctx context.Context, thingName string) (*model.Device, error)
	ListDevicesBySpace(ctx context.Context, spaceID string) ([]model.Device, error)
	ListTanksByParent(ctx context.Context, parentDeviceID string) ([]model.Device, error)
	UpdateSwitchStatus(ctx context.Context, deviceID string, switchNo model.SwitchNo, status bool) error
	UpdateTankLevel(ctx context.Context, deviceID string, level float64) error
	UpdateTankThresholds(ctx context.Context, deviceID string, minimum, maximum float64) error
	DeleteDevice(ctx context.Context, deviceID string) error
}

type commandPublisher interface {
	PublishControl(thingName string, p model.ControlPayload) error
	PublishSetting(thingName string, p model.SettingPayload) error
	PublishSlaveRequest(thingName string, p model.SlaveRequestPayload) error
	PublishReset(thingName string, p model.ResetPayload) error
	PublishAlive(thingName string, p model.AlivePayload) error
}

type responseAwaiter interface {
	AwaitResponse(ctx context.Context, key respstore.Key, freshness, deadline time.Duration) (*respstore.Record, error)
}

type notifier interface {
	Notify(ctx context.Context, n *model.Notification)
}

type service struct {
	db        database
	publisher commandPublisher
	awaiter   responseAwaiter
	notifier  notifier
	tuning    *config.Tuning
	logger    *zap.Logger
}

func New(db database, publisher commandPublisher, awaiter responseAwaiter, notifier notifier, tuning *config.Tuning) *service {
	return &service{
		db:        db,
		publisher: publisher,
		awaiter:   awaiter,
		notifier:  notifier,
		tuning:    tuning,
		logger:    zap.L(),
	}
}

func (s *service) CreateSpace(ctx context.Context, ownerID, name string) (*model.Space, error) {
	if ownerID == "" || name == "" {
		return nil, fmt.Errorf("space needs owner_id and name: %w", model.ErrValidation)
	}
	space := &model.Space{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.CreateSpace(ctx, space); err != nil {
		return nil, err
	}
	return space, nil
}

func (s *service) ListSpaces(ctx context.Context, ownerID string) ([]model.Space, error) {
	return s.db.ListSpaces(ctx, ownerID)
}

// ownedSpace loads a space and hides it from callers who do not own it.
func (s *service) ownedSpace(ctx context.Context, ownerID, spaceID string) (*model.Space, error) {
	space, err := s.db.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if space.OwnerID != ownerID {
		return nil, fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	return space, nil
}

// ownedDevice loads a device and hides it from callers who do not own it.
func (s *service) ownedDevice(ctx context.Context, ownerID, deviceID string) (*model.Device, error) {
	dev, err := s.db.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.OwnerID != ownerID {
		return nil, fmt.Errorf("device %s: %w", deviceID, model.ErrNotFound)
	}
	return dev, nil
}

func (s *service) GetDevice(ctx context.Context, ownerID, deviceID string) (*model.Device, error) {
	return s.ownedDevice(ctx, ownerID, deviceID)
}

func (s *service) ListDevices(ctx context.Context, ownerID, spaceID string) ([]model.Device, error) {
	if _, err := s.ownedSpace(ctx, ownerID, spaceID); err != nil {
		return nil, err
	}
	return s.db.ListDevicesBySpace(ctx, spaceID)
}
