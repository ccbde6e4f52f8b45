package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

type adminDatabase interface {
	GetSpace(ctx context.Context, spaceID string) (*model.Space, error)
	GetDevice(ctx context.Context, deviceID string) (*model.Device, error)
	CreateSetup(ctx context.Context, setup *model.Setup) error
	UpdateSetup(ctx context.Context, setup *model.Setup) error
	GetSetup(ctx context.Context, setupID string) (*model.Setup, error)
	ListSetupsBySpace(ctx context.Context, spaceID string) ([]model.Setup, error)
	SetSetupActive(ctx context.Context, setupID string, active bool) error
	DeleteSetup(ctx context.Context, setupID string) error
}

// service administers setups: CRUD plus the cross-device checks that keep a
// stored rule executable (condition device of the right type, every action
// aimed at a base in the same space).
type service struct {
	db     adminDatabase
	logger *zap.Logger
}

func NewService(db adminDatabase) *service {
	return &service{
		db:     db,
		logger: zap.L(),
	}
}

func (s *service) CreateSetup(ctx context.Context, ownerID string, setup *model.Setup) (*model.Setup, error) {
	if err := setup.Validate(); err != nil {
		return nil, err
	}
	space, err := s.ownedSpace(ctx, ownerID, setup.SpaceID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTargets(ctx, space.ID, setup); err != nil {
		return nil, err
	}

	setup.ID = uuid.NewString()
	setup.CreatedAt = time.Now().UTC()
	setup.LastTriggered = nil
	if err := s.db.CreateSetup(ctx, setup); err != nil {
		return nil, err
	}
	s.logger.Info("created setup",
		zap.String("setup_id", setup.ID),
		zap.String("space_id", setup.SpaceID),
		zap.String("name", setup.Name))
	return setup, nil
}

// UpdateSetup replaces the rule's condition, actions, name and active flag.
// A setup cannot move between spaces.
func (s *service) UpdateSetup(ctx context.Context, ownerID string, setup *model.Setup) (*model.Setup, error) {
	existing, err := s.ownedSetup(ctx, ownerID, setup.ID)
	if err != nil {
		return nil, err
	}
	setup.SpaceID = existing.SpaceID
	setup.CreatedAt = existing.CreatedAt
	setup.LastTriggered = existing.LastTriggered

	if err := setup.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkTargets(ctx, existing.SpaceID, setup); err != nil {
		return nil, err
	}
	if err := s.db.UpdateSetup(ctx, setup); err != nil {
		return nil, err
	}
	return setup, nil
}

func (s *service) GetSetup(ctx context.Context, ownerID, setupID string) (*model.Setup, error) {
	return s.ownedSetup(ctx, ownerID, setupID)
}

func (s *service) ListSetups(ctx context.Context, ownerID, spaceID string) ([]model.Setup, error) {
	if _, err := s.ownedSpace(ctx, ownerID, spaceID); err != nil {
		return nil, err
	}
	return s.db.ListSetupsBySpace(ctx, spaceID)
}

func (s *service) SetSetupActive(ctx context.Context, ownerID, setupID string, active bool) error {
	if _, err := s.ownedSetup(ctx, ownerID, setupID); err != nil {
		return err
	}
	return s.db.SetSetupActive(ctx, setupID, active)
}

func (s *service) DeleteSetup(ctx context.Context, ownerID, setupID string) error {
	if _, err := s.ownedSetup(ctx, ownerID, setupID); err != nil {
		return err
	}
	return s.db.DeleteSetup(ctx, setupID)
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

// ownedSetup loads a setup and hides it from callers who do not own its
// space.
func (s *service) ownedSetup(ctx context.Context, ownerID, setupID string) (*model.Setup, error) {
	setup, err := s.db.GetSetup(ctx, setupID)
	if err != nil {
		return nil, err
	}
	space, err := s.db.GetSpace(ctx, setup.SpaceID)
	if err != nil {
		return nil, err
	}
	if space.OwnerID != ownerID {
		return nil, fmt.Errorf("setup %s: %w", setupID, model.ErrNotFound)
	}
	return setup, nil
}

// checkTargets verifies the devices a setup points at: the condition device
// must live in the setup's space and match the condition variant, and every
// action must aim at a base device in that same space.
func (s *service) checkTargets(ctx context.Context, spaceID string, setup *model.Setup) error {
	condDev, err := s.db.GetDevice(ctx, setup.Condition.DeviceID)
	if err != nil {
		return fmt.Errorf("condition device: %w", err)
	}
	if condDev.SpaceID != spaceID {
		return fmt.Errorf("condition device %s is not in space %s: %w", condDev.ID, spaceID, model.ErrValidation)
	}
	if condDev.Type != setup.Condition.DeviceType {
		return fmt.Errorf("condition expects a %s device but %s is a %s: %w",
			setup.Condition.DeviceType, condDev.ID, condDev.Type, model.ErrValidation)
	}

	for i, action := range setup.Actions {
		dev, err := s.db.GetDevice(ctx, action.DeviceID)
		if err != nil {
			return fmt.Errorf("action %d device: %w", i, err)
		}
		if dev.Type != model.DeviceTypeBase {
			return fmt.Errorf("action %d device %s is not a base: %w", i, dev.ID, model.ErrValidation)
		}
		if dev.SpaceID != spaceID {
			return fmt.Errorf("action %d device %s is not in space %s: %w", i, dev.ID, spaceID, model.ErrValidation)
		}
	}
	return nil
}
