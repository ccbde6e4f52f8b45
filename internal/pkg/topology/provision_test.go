package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
)

func TestRegisterBaseDerivesThingName(t *testing.T) {
	var created *model.Device
	db := &dbMock{
		getSpace: func(_ context.Context, spaceID string) (*model.Space, error) {
			return &model.Space{ID: spaceID, OwnerID: "owner-1"}, nil
		},
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			return nil, model.ErrNotFound
		},
		createBase: func(_ context.Context, dev *model.Device) error {
			created = dev
			return nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	dev, err := svc.RegisterBase(context.Background(), RegisterBaseInput{
		SpaceID:  "space-1",
		OwnerID:  "owner-1",
		DeviceID: "AB12",
		Name:     "Shed Pump",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, model.DeviceTypeBase, dev.Type)
	assert.True(t, dev.Online)
	require.Len(t, dev.Switches, 2)
	assert.Equal(t, model.SwitchBM1, dev.Switches[0].No)
	assert.Equal(t, model.SwitchBM2, dev.Switches[1].No)
	assert.Equal(t, "shed-pump-ab12", dev.Switches[0].ThingName)
	assert.Equal(t, "shed-pump-ab12", dev.Switches[1].ThingName)
	assert.False(t, dev.Switches[0].Status)
}

func TestRegisterBaseKeepsGivenThingName(t *testing.T) {
	db := &dbMock{
		getSpace: func(_ context.Context, spaceID string) (*model.Space, error) {
			return &model.Space{ID: spaceID, OwnerID: "owner-1"}, nil
		},
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			return nil, model.ErrNotFound
		},
		createBase: func(_ context.Context, dev *model.Device) error { return nil },
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	dev, err := svc.RegisterBase(context.Background(), RegisterBaseInput{
		SpaceID:   "space-1",
		OwnerID:   "owner-1",
		DeviceID:  "AB12",
		Name:      "Shed Pump",
		ThingName: "box-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "box-7", dev.ThingName())
}

func TestRegisterBaseValidation(t *testing.T) {
	svc := newTestService(t, &dbMock{}, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	_, err := svc.RegisterBase(context.Background(), RegisterBaseInput{
		SpaceID: "space-1",
		OwnerID: "owner-1",
		Name:    "Shed Pump",
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRegisterBaseDuplicateIDs(t *testing.T) {
	tests := []struct {
		name          string
		existingOwner string
		wantErr       error
	}{
		{name: "same owner already has the id", existingOwner: "owner-1", wantErr: model.ErrDuplicateDevice},
		{name: "id claimed by another owner", existingOwner: "someone-else", wantErr: model.ErrDeviceClaimed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &dbMock{
				getSpace: func(_ context.Context, spaceID string) (*model.Space, error) {
					return &model.Space{ID: spaceID, OwnerID: "owner-1"}, nil
				},
				getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
					existing := baseFixture()
					existing.OwnerID = tt.existingOwner
					return existing, nil
				},
			}
			svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

			_, err := svc.RegisterBase(context.Background(), RegisterBaseInput{
				SpaceID:  "space-1",
				OwnerID:  "owner-1",
				DeviceID: "base-1",
				Name:     "Shed Pump",
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAttachTankPairsFirstFreeSlot(t *testing.T) {
	var created *model.Device
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "base-1" {
				return baseFixture(), nil
			}
			return nil, model.ErrNotFound
		},
		listTanksByParent: func(_ context.Context, parentDeviceID string) ([]model.Device, error) {
			return nil, nil
		},
		createTank: func(_ context.Context, dev *model.Device) error {
			created = dev
			return nil
		},
	}
	pub := &publisherMock{}
	aw := &awaiterMock{}
	sink := &sinkMock{}
	svc := newTestService(t, db, pub, aw, sink)

	tank, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "base-1",
		OwnerID:        "owner-1",
		DeviceID:       "tank-9",
		Name:           "Rain Tank",
		Minimum:        20,
		Maximum:        80,
		Range:          150,
		Capacity:       5000,
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	require.Len(t, pub.slaveRequests, 1)
	assert.Equal(t, "box-1", pub.things[0])
	assert.Equal(t, model.SlaveRequestPayload{
		DeviceID: "base-1",
		SlaveNo:  model.SlaveTM1,
		Mode:     model.SlaveModeWifi,
		Range:    150,
		Capacity: 5000,
	}, pub.slaveRequests[0])

	require.Len(t, aw.keys, 1)
	assert.Equal(t, respstore.Key{Subject: "box-1", Kind: model.ResponseSlave}, aw.keys[0])

	require.NotNil(t, tank.Parent)
	assert.Equal(t, "space-1", tank.SpaceID)
	assert.Equal(t, model.SwitchBM1, tank.Parent.ParentSwitchNo)
	assert.Equal(t, model.SlaveTM1, tank.Parent.SlaveName)
	assert.Equal(t, 20.0, tank.Minimum)
	assert.Equal(t, 80.0, tank.Maximum)

	require.Len(t, sink.notes, 1)
	assert.Equal(t, model.EventSlaveAdded, sink.notes[0].Type)
	assert.Equal(t, "space-1", sink.notes[0].SpaceID)
	assert.Equal(t, "tank-9", sink.notes[0].DeviceID)
}

func TestAttachTankTakesSecondSlot(t *testing.T) {
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "base-1" {
				return baseFixture(), nil
			}
			return nil, model.ErrNotFound
		},
		listTanksByParent: func(_ context.Context, parentDeviceID string) ([]model.Device, error) {
			return []model.Device{tankOnSlot(model.SlaveTM1)}, nil
		},
		createTank: func(_ context.Context, dev *model.Device) error { return nil },
	}
	pub := &publisherMock{}
	svc := newTestService(t, db, pub, &awaiterMock{}, &sinkMock{})

	tank, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "base-1",
		OwnerID:        "owner-1",
		DeviceID:       "tank-9",
		Name:           "Rain Tank",
		Mode:           model.SlaveModeWithoutWifi,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchBM2, tank.Parent.ParentSwitchNo)
	assert.Equal(t, model.SlaveTM2, tank.Parent.SlaveName)
	require.Len(t, pub.slaveRequests, 1)
	assert.Equal(t, model.SlaveModeWithoutWifi, pub.slaveRequests[0].Mode)
}

func TestAttachTankRejectsUnknownMode(t *testing.T) {
	svc := newTestService(t, &dbMock{}, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	_, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "base-1",
		OwnerID:        "owner-1",
		DeviceID:       "tank-9",
		Name:           "Rain Tank",
		Mode:           2,
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAttachTankSlotsFull(t *testing.T) {
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "base-1" {
				return baseFixture(), nil
			}
			return nil, model.ErrNotFound
		},
		listTanksByParent: func(_ context.Context, parentDeviceID string) ([]model.Device, error) {
			return []model.Device{tankOnSlot(model.SlaveTM1), tankOnSlot(model.SlaveTM2)}, nil
		},
	}
	pub := &publisherMock{}
	svc := newTestService(t, db, pub, &awaiterMock{}, &sinkMock{})

	_, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "base-1",
		OwnerID:        "owner-1",
		DeviceID:       "tank-9",
		Name:           "Rain Tank",
	})
	assert.ErrorIs(t, err, model.ErrSlotsFull)
	assert.Empty(t, pub.slaveRequests)
}

func TestAttachTankPairingTimeoutLeavesNoRow(t *testing.T) {
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "base-1" {
				return baseFixture(), nil
			}
			return nil, model.ErrNotFound
		},
		listTanksByParent: func(_ context.Context, parentDeviceID string) ([]model.Device, error) {
			return nil, nil
		},
		createTank: func(_ context.Context, dev *model.Device) error {
			t.Error("tank must not be created when pairing times out")
			return nil
		},
	}
	aw := &awaiterMock{
		await: func(_ context.Context, _ respstore.Key, _, _ time.Duration) (*respstore.Record, error) {
			return nil, model.ErrTimeout
		},
	}
	sink := &sinkMock{}
	svc := newTestService(t, db, &publisherMock{}, aw, sink)

	_, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "base-1",
		OwnerID:        "owner-1",
		DeviceID:       "tank-9",
		Name:           "Rain Tank",
	})
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.Empty(t, sink.notes)
}

func TestAttachTankRejectsNonBaseParent(t *testing.T) {
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			return tankFixture(), nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	_, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "tank-9",
		OwnerID:        "owner-1",
		DeviceID:       "tank-10",
		Name:           "Other Tank",
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAttachTankParentWithoutAddress(t *testing.T) {
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "base-1" {
				parent := baseFixture()
				parent.Switches[0].ThingName = ""
				parent.Switches[1].ThingName = ""
				return parent, nil
			}
			return nil, model.ErrNotFound
		},
		listTanksByParent: func(_ context.Context, parentDeviceID string) ([]model.Device, error) {
			return nil, nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	_, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "base-1",
		OwnerID:        "owner-1",
		DeviceID:       "tank-9",
		Name:           "Rain Tank",
	})
	assert.ErrorIs(t, err, model.ErrNoAddress)
}

func TestAttachTankThresholdValidation(t *testing.T) {
	svc := newTestService(t, &dbMock{}, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	_, err := svc.AttachTank(context.Background(), AttachTankInput{
		ParentDeviceID: "base-1",
		OwnerID:        "owner-1",
		DeviceID:       "tank-9",
		Name:           "Rain Tank",
		Minimum:        80,
		Maximum:        20,
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDetachBaseWithTanks(t *testing.T) {
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			return baseFixture(), nil
		},
		listTanksByParent: func(_ context.Context, parentDeviceID string) ([]model.Device, error) {
			return []model.Device{tankOnSlot(model.SlaveTM1)}, nil
		},
		deleteDevice: func(_ context.Context, deviceID string) error {
			t.Error("base with tanks must not be deleted")
			return nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	err := svc.DetachDevice(context.Background(), "owner-1", "base-1")
	assert.ErrorIs(t, err, model.ErrHasDependents)
}

func TestDetachEmptyBase(t *testing.T) {
	deleted := ""
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			return baseFixture(), nil
		},
		listTanksByParent: func(_ context.Context, parentDeviceID string) ([]model.Device, error) {
			return nil, nil
		},
		deleteDevice: func(_ context.Context, deviceID string) error {
			deleted = deviceID
			return nil
		},
	}
	svc := newTestService(t, db, &publisherMock{}, &awaiterMock{}, &sinkMock{})

	require.NoError(t, svc.DetachDevice(context.Background(), "owner-1", "base-1"))
	assert.Equal(t, "base-1", deleted)
}

func TestDetachTankSendsReset(t *testing.T) {
	deleted := ""
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "base-1" {
				return baseFixture(), nil
			}
			return tankFixture(), nil
		},
		deleteDevice: func(_ context.Context, deviceID string) error {
			deleted = deviceID
			return nil
		},
	}
	pub := &publisherMock{}
	svc := newTestService(t, db, pub, &awaiterMock{}, &sinkMock{})

	require.NoError(t, svc.DetachDevice(context.Background(), "owner-1", "tank-9"))
	assert.Equal(t, "tank-9", deleted)
	require.Len(t, pub.resets, 1)
	assert.Equal(t, "box-1", pub.things[0])
	assert.Equal(t, model.ResetPayload{
		DeviceID: "base-1",
		SlaveNo:  model.SlaveTM2,
		SlaveID:  "tank-9",
	}, pub.resets[0])
}

func TestDetachTankSurvivesResetFailure(t *testing.T) {
	deleted := ""
	db := &dbMock{
		getDevice: func(_ context.Context, deviceID string) (*model.Device, error) {
			if deviceID == "base-1" {
				return baseFixture(), nil
			}
			return tankFixture(), nil
		},
		deleteDevice: func(_ context.Context, deviceID string) error {
			deleted = deviceID
			return nil
		},
	}
	pub := &publisherMock{resetErr: model.ErrTransport}
	svc := newTestService(t, db, pub, &awaiterMock{}, &sinkMock{})

	require.NoError(t, svc.DetachDevice(context.Background(), "owner-1", "tank-9"))
	assert.Equal(t, "tank-9", deleted)
}
