package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

type adminDBMock struct {
	getSpace    func(ctx context.Context, spaceID string) (*model.Space, error)
	getDevice   func(ctx context.Context, deviceID string) (*model.Device, error)
	createSetup func(ctx context.Context, setup *model.Setup) error
	updateSetup func(ctx context.Context, setup *model.Setup) error
	getSetup    func(ctx context.Context, setupID string) (*model.Setup, error)
	listSetups  func(ctx context.Context, spaceID string) ([]model.Setup, error)
	setActive   func(ctx context.Context, setupID string, active bool) error
	delete      func(ctx context.Context, setupID string) error

	created []*model.Setup
	updated []*model.Setup
	toggled []string
	deleted []string
}

func (m *adminDBMock) GetSpace(ctx context.Context, spaceID string) (*model.Space, error) {
	if m.getSpace != nil {
		return m.getSpace(ctx, spaceID)
	}
	return &model.Space{ID: spaceID, OwnerID: "owner-1", Name: "Farm"}, nil
}

func (m *adminDBMock) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	return m.getDevice(ctx, deviceID)
}

func (m *adminDBMock) CreateSetup(ctx context.Context, setup *model.Setup) error {
	m.created = append(m.created, setup)
	if m.createSetup != nil {
		return m.createSetup(ctx, setup)
	}
	return nil
}

func (m *adminDBMock) UpdateSetup(ctx context.Context, setup *model.Setup) error {
	m.updated = append(m.updated, setup)
	if m.updateSetup != nil {
		return m.updateSetup(ctx, setup)
	}
	return nil
}

func (m *adminDBMock) GetSetup(ctx context.Context, setupID string) (*model.Setup, error) {
	return m.getSetup(ctx, setupID)
}

func (m *adminDBMock) ListSetupsBySpace(ctx context.Context, spaceID string) ([]model.Setup, error) {
	if m.listSetups != nil {
		return m.listSetups(ctx, spaceID)
	}
	return nil, nil
}

func (m *adminDBMock) SetSetupActive(ctx context.Context, setupID string, active bool) error {
	m.toggled = append(m.toggled, setupID)
	if m.setActive != nil {
		return m.setActive(ctx, setupID, active)
	}
	return nil
}

func (m *adminDBMock) DeleteSetup(ctx context.Context, setupID string) error {
	m.deleted = append(m.deleted, setupID)
	if m.delete != nil {
		return m.delete(ctx, setupID)
	}
	return nil
}

func tankDevice() *model.Device {
	return &model.Device{
		ID:      "tank-9",
		SpaceID: "space-1",
		OwnerID: "owner-1",
		Type:    model.DeviceTypeTank,
		Name:    "North tank",
	}
}

// spaceDevices answers GetDevice for the usual pair: tank-9 watches the
// level, pump-1 takes the actions.
func spaceDevices(_ context.Context, deviceID string) (*model.Device, error) {
	switch deviceID {
	case "tank-9":
		return tankDevice(), nil
	case "pump-1":
		return pumpBase(false, false), nil
	}
	return nil, model.ErrNotFound
}

func draftSetup() *model.Setup {
	minimum := 20.0
	return &model.Setup{
		SpaceID: "space-1",
		Name:    "Refill on low",
		Active:  true,
		Condition: model.Condition{
			DeviceID:   "tank-9",
			DeviceType: model.DeviceTypeTank,
			Operator:   model.OperatorLess,
			Minimum:    &minimum,
		},
		Actions: []model.Action{
			{DeviceID: "pump-1", SwitchNo: model.SwitchBM1, SetStatus: true},
		},
	}
}

func TestCreateSetupAssignsIdentityAndPersists(t *testing.T) {
	db := &adminDBMock{getDevice: spaceDevices}
	s := NewService(db)

	created, err := s.CreateSetup(context.Background(), "owner-1", draftSetup())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Nil(t, created.LastTriggered)
	require.Len(t, db.created, 1)
	assert.Same(t, created, db.created[0])
}

func TestCreateSetupRejectsInvalidShapeBeforeStore(t *testing.T) {
	db := &adminDBMock{getDevice: spaceDevices}
	s := NewService(db)

	setup := draftSetup()
	setup.Actions = nil
	_, err := s.CreateSetup(context.Background(), "owner-1", setup)

	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, db.created)
}

func TestCreateSetupMasksForeignSpace(t *testing.T) {
	db := &adminDBMock{
		getSpace: func(_ context.Context, spaceID string) (*model.Space, error) {
			return &model.Space{ID: spaceID, OwnerID: "someone-else"}, nil
		},
		getDevice: spaceDevices,
	}
	s := NewService(db)

	_, err := s.CreateSetup(context.Background(), "owner-1", draftSetup())

	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, db.created)
}

func TestCreateSetupRejectsConditionTypeMismatch(t *testing.T) {
	db := &adminDBMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			// The watched device turns out to be a base, not the tank the
			// condition claims.
			base := pumpBase(false, false)
			base.ID = deviceID
			return base, nil
		},
	}
	s := NewService(db)

	_, err := s.CreateSetup(context.Background(), "owner-1", draftSetup())

	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, db.created)
}

func TestCreateSetupRejectsActionOutsideSpace(t *testing.T) {
	db := &adminDBMock{
		getDevice: func(ctx context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "pump-1" {
				foreign := pumpBase(false, false)
				foreign.SpaceID = "space-2"
				return foreign, nil
			}
			return spaceDevices(ctx, deviceID)
		},
	}
	s := NewService(db)

	_, err := s.CreateSetup(context.Background(), "owner-1", draftSetup())

	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, db.created)
}

func TestCreateSetupRejectsTankAction(t *testing.T) {
	db := &adminDBMock{
		getDevice: func(ctx context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "pump-1" {
				sneaky := tankDevice()
				sneaky.ID = "pump-1"
				return sneaky, nil
			}
			return spaceDevices(ctx, deviceID)
		},
	}
	s := NewService(db)

	_, err := s.CreateSetup(context.Background(), "owner-1", draftSetup())

	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, db.created)
}

func TestCreateSetupRejectsMissingActionDevice(t *testing.T) {
	db := &adminDBMock{
		getDevice: func(ctx context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "pump-1" {
				return nil, model.ErrNotFound
			}
			return spaceDevices(ctx, deviceID)
		},
	}
	s := NewService(db)

	_, err := s.CreateSetup(context.Background(), "owner-1", draftSetup())

	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, db.created)
}

func TestUpdateSetupPinsSpaceAndHistory(t *testing.T) {
	triggered := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	existing := draftSetup()
	existing.ID = "setup-1"
	existing.CreatedAt = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	existing.LastTriggered = &triggered

	db := &adminDBMock{
		getDevice: spaceDevices,
		getSetup: func(_ context.Context, setupID string) (*model.Setup, error) {
			return existing, nil
		},
	}
	s := NewService(db)

	patch := draftSetup()
	patch.ID = "setup-1"
	patch.SpaceID = "space-elsewhere"
	patch.Name = "Refill earlier"

	updated, err := s.UpdateSetup(context.Background(), "owner-1", patch)
	require.NoError(t, err)

	assert.Equal(t, "space-1", updated.SpaceID, "a setup must not move between spaces")
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt)
	assert.Equal(t, existing.LastTriggered, updated.LastTriggered)
	assert.Equal(t, "Refill earlier", updated.Name)
	require.Len(t, db.updated, 1)
}

func TestGetSetupMasksForeignOwner(t *testing.T) {
	db := &adminDBMock{
		getSetup: func(_ context.Context, setupID string) (*model.Setup, error) {
			found := draftSetup()
			found.ID = setupID
			return found, nil
		},
		getSpace: func(_ context.Context, spaceID string) (*model.Space, error) {
			return &model.Space{ID: spaceID, OwnerID: "someone-else"}, nil
		},
	}
	s := NewService(db)

	_, err := s.GetSetup(context.Background(), "owner-1", "setup-1")

	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListSetupsChecksSpaceOwnership(t *testing.T) {
	db := &adminDBMock{
		listSetups: func(_ context.Context, spaceID string) ([]model.Setup, error) {
			return []model.Setup{*draftSetup()}, nil
		},
	}
	s := NewService(db)

	setups, err := s.ListSetups(context.Background(), "owner-1", "space-1")
	require.NoError(t, err)
	assert.Len(t, setups, 1)

	_, err = s.ListSetups(context.Background(), "intruder", "space-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSetSetupActiveDelegatesAfterOwnershipCheck(t *testing.T) {
	db := &adminDBMock{
		getSetup: func(_ context.Context, setupID string) (*model.Setup, error) {
			found := draftSetup()
			found.ID = setupID
			return found, nil
		},
	}
	s := NewService(db)

	require.NoError(t, s.SetSetupActive(context.Background(), "owner-1", "setup-1", false))
	assert.Equal(t, []string{"setup-1"}, db.toggled)

	err := s.SetSetupActive(context.Background(), "intruder", "setup-1", false)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Len(t, db.toggled, 1)
}

func TestDeleteSetupDelegatesAfterOwnershipCheck(t *testing.T) {
	db := &adminDBMock{
		getSetup: func(_ context.Context, setupID string) (*model.Setup, error) {
			found := draftSetup()
			found.ID = setupID
			return found, nil
		},
	}
	s := NewService(db)

	require.NoError(t, s.DeleteSetup(context.Background(), "owner-1", "setup-1"))
	assert.Equal(t, []string{"setup-1"}, db.deleted)
}
