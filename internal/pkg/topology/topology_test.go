package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquabase/tanklink/internal/pkg/config"
	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
)

type dbMock struct {
	createSpace          func(ctx context.Context, space *model.Space) error
	getSpace             func(ctx context.Context, spaceID string) (*model.Space, error)
	listSpaces           func(ctx context.Context, ownerID string) ([]model.Space, error)
	createBase           func(ctx context.Context, dev *model.Device) error
	createTank           func(ctx context.Context, dev *model.Device) error
	getDevice            func(ctx context.Context, deviceID string) (*model.Device, error)
	getBaseByThingName   func(ctx context.Context, thingName string) (*model.Device, error)
	listDevicesBySpace   func(ctx context.Context, spaceID string) ([]model.Device, error)
	listTanksByParent    func(ctx context.Context, parentDeviceID string) ([]model.Device, error)
	updateSwitchStatus   func(ctx context.Context, deviceID string, switchNo model.SwitchNo, status bool) error
	updateTankLevel      func(ctx context.Context, deviceID string, level float64) error
	updateTankThresholds func(ctx context.Context, deviceID string, minimum, maximum float64) error
	deleteDevice         func(ctx context.Context, deviceID string) error
}

func (m *dbMock) CreateSpace(ctx context.Context, space *model.Space) error {
	return m.createSpace(ctx, space)
}

func (m *dbMock) GetSpace(ctx context.Context, spaceID string) (*model.Space, error) {
	return m.getSpace(ctx, spaceID)
}

func (m *dbMock) ListSpaces(ctx context.Context, ownerID string) ([]model.Space, error) {
	return m.listSpaces(ctx, ownerID)
}

func (m *dbMock) CreateBase(ctx context.Context, dev *model.Device) error {
	return m.createBase(ctx, dev)
}

func (m *dbMock) CreateTank(ctx context.Context, dev *model.Device) error {
	return m.createTank(ctx, dev)
}

func (m *dbMock) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	return m.getDevice(ctx, deviceID)
}

func (m *dbMock) GetBaseByThingName(ctx context.Context, thingName string) (*model.Device, error) {
	return m.getBaseByThingName(ctx, thingName)
}

func (m *dbMock) ListDevicesBySpace(ctx context.Context, spaceID string) ([]model.Device, error) {
	return m.listDevicesBySpace(ctx, spaceID)
}

func (m *dbMock) ListTanksByParent(ctx context.Context, parentDeviceID string) ([]model.Device, error) {
	return m.listTanksByParent(ctx, parentDeviceID)
}

func (m *dbMock) UpdateSwitchStatus(ctx context.Context, deviceID string, switchNo model.SwitchNo, status bool) error {
	return m.updateSwitchStatus(ctx, deviceID, switchNo, status)
}

func (m *dbMock) UpdateTankLevel(ctx context.Context, deviceID string, level float64) error {
	return m.updateTankLevel(ctx, deviceID, level)
}

func (m *dbMock) UpdateTankThresholds(ctx context.Context, deviceID string, minimum, maximum float64) error {
	return m.updateTankThresholds(ctx, deviceID, minimum, maximum)
}

func (m *dbMock) DeleteDevice(ctx context.Context, deviceID string) error {
	return m.deleteDevice(ctx, deviceID)
}

type publisherMock struct {
	controlErr error
	settingErr error
	slaveErr   error
	resetErr   error
	aliveErr   error

	things        []string
	controls      []model.ControlPayload
	settings      []model.SettingPayload
	slaveRequests []model.SlaveRequestPayload
	resets        []model.ResetPayload
	alives        []model.AlivePayload
}

func (m *publisherMock) PublishControl(thingName string, p model.ControlPayload) error {
	if m.controlErr != nil {
		return m.controlErr
	}
	m.things = append(m.things, thingName)
	m.controls = append(m.controls, p)
	return nil
}

func (m *publisherMock) PublishSetting(thingName string, p model.SettingPayload) error {
	if m.settingErr != nil {
		return m.settingErr
	}
	m.things = append(m.things, thingName)
	m.settings = append(m.settings, p)
	return nil
}

func (m *publisherMock) PublishSlaveRequest(thingName string, p model.SlaveRequestPayload) error {
	if m.slaveErr != nil {
		return m.slaveErr
	}
	m.things = append(m.things, thingName)
	m.slaveRequests = append(m.slaveRequests, p)
	return nil
}

func (m *publisherMock) PublishReset(thingName string, p model.ResetPayload) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.things = append(m.things, thingName)
	m.resets = append(m.resets, p)
	return nil
}

func (m *publisherMock) PublishAlive(thingName string, p model.AlivePayload) error {
	if m.aliveErr != nil {
		return m.aliveErr
	}
	m.things = append(m.things, thingName)
	m.alives = append(m.alives, p)
	return nil
}

type awaiterMock struct {
	await func(ctx context.Context, key respstore.Key, freshness, deadline time.Duration) (*respstore.Record, error)
	keys  []respstore.Key
}

func (m *awaiterMock) AwaitResponse(ctx context.Context, key respstore.Key, freshness, deadline time.Duration) (*respstore.Record, error) {
	m.keys = append(m.keys, key)
	if m.await == nil {
		return &respstore.Record{Subject: key.Subject, Kind: key.Kind}, nil
	}
	return m.await(ctx, key, freshness, deadline)
}

type sinkMock struct {
	notes []*model.Notification
}

func (m *sinkMock) Notify(_ context.Context, n *model.Notification) {
	m.notes = append(m.notes, n)
}

func newTestService(t *testing.T, db *dbMock, pub *publisherMock, aw *awaiterMock, sink *sinkMock) *service {
	t.Helper()
	tuning := &config.Tuning{
		SlaveFreshness:  time.Second,
		SlaveDeadline:   time.Second,
		AliveFreshness:  time.Second,
		AliveDeadline:   time.Second,
		UpdateFreshness: time.Second,
		UpdateDeadline:  time.Second,
	}
	return New(db, pub, aw, sink, tuning)
}

func baseFixture() *model.Device {
	return &model.Device{
		ID:      "base-1",
		SpaceID: "space-1",
		OwnerID: "owner-1",
		Type:    model.DeviceTypeBase,
		Name:    "Shed Pump",
		Online:  true,
		Switches: []model.Switch{
			{No: model.SwitchBM1, ThingName: "box-1"},
			{No: model.SwitchBM2, ThingName: "box-1"},
		},
	}
}

func tankFixture() *model.Device {
	return &model.Device{
		ID:      "tank-9",
		SpaceID: "space-1",
		OwnerID: "owner-1",
		Type:    model.DeviceTypeTank,
		Name:    "Rain Tank",
		Online:  true,
		Parent: &model.TankAttachment{
			ParentDeviceID: "base-1",
			ParentSwitchNo: model.SwitchBM2,
			SlaveName:      model.SlaveTM2,
		},
		Minimum: 20,
		Maximum: 80,
	}
}

func TestCreateSpace(t *testing.T) {
	var created *model.Space
	db := &dbMock{
		createSpace: func(_ context.Context, space *model.Space) error {
			created = space
			return nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	space, err := svc.CreateSpace(context.Background(), "owner-1", "Back Paddock")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotEmpty(t, space.ID)
	assert.Equal(t, "owner-1", space.OwnerID)
	assert.Equal(t, "Back Paddock", space.Name)
	assert.Equal(t, created, space)
}

func TestCreateSpaceValidation(t *testing.T) {
	svc := newTestService(t, &dbMock{}, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	_, err := svc.CreateSpace(context.Background(), "owner-1", "")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.CreateSpace(context.Background(), "", "Back Paddock")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestGetDeviceHiddenFromOtherOwners(t *testing.T) {
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			return baseFixture(), nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	dev, err := svc.GetDevice(context.Background(), "owner-1", "base-1")
	require.NoError(t, err)
	assert.Equal(t, "base-1", dev.ID)

	_, err = svc.GetDevice(context.Background(), "intruder", "base-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListDevicesChecksSpaceOwnership(t *testing.T) {
	listed := false
	db := &dbMock{
		getSpace: func(_ context.Context, spaceID string) (*model.Space, error) {
			return &model.Space{ID: spaceID, OwnerID: "owner-1"}, nil
		},
		listDevicesBySpace: func(_ context.Context, spaceID string) ([]model.Device, error) {
			listed = true
			return []model.Device{*baseFixture()}, nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	devices, err := svc.ListDevices(context.Background(), "owner-1", "space-1")
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.True(t, listed)

	listed = false
	_, err = svc.ListDevices(context.Background(), "intruder", "space-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, listed)
}
