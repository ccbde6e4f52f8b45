package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

// deviceColumns is the join shape every device query scans: one row per
// (device, switch) pair, switch columns NULL for tanks.
const deviceColumns = `
	d.device_id, d.space_id, d.owner_id, d.device_type, d.device_name, d.online_status,
	d.parent_device_id, d.parent_switch_no, d.slave_name,
	d.level, d.minimum, d.maximum, d.created_at, d.updated_at,
	s.switch_no, s.status, s.thing_name`

func (d *Database) CreateSpace(ctx context.Context, space *model.Space) error {
	const query = `
	INSERT INTO spaces (space_id, owner_id, name, created_at)
	VALUES ($1, $2, $3, $4);`

	if _, err := d.db.ExecContext(ctx, query, space.ID, space.OwnerID, space.Name, space.CreatedAt); err != nil {
		return err
	}
	return nil
}

func (d *Database) GetSpace(ctx context.Context, spaceID string) (*model.Space, error) {
	const query = `
	SELECT space_id, owner_id, name, created_at
	FROM spaces
	WHERE space_id = $1;`

	space := &model.Space{}
	err := d.db.QueryRowContext(ctx, query, spaceID).
		Scan(&space.ID, &space.OwnerID, &space.Name, &space.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return space, nil
}

func (d *Database) ListSpaces(ctx context.Context, ownerID string) ([]model.Space, error) {
	const query = `
	SELECT space_id, owner_id, name, created_at
	FROM spaces
	WHERE owner_id = $1
	ORDER BY created_at;`

	rows, err := d.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spaces []model.Space
	for rows.Next() {
		var space model.Space
		if err := rows.Scan(&space.ID, &space.OwnerID, &space.Name, &space.CreatedAt); err != nil {
			return nil, err
		}
		spaces = append(spaces, space)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return spaces, nil
}

// CreateBase inserts the device row and its two switch rows in one
// transaction.
func (d *Database) CreateBase(ctx context.Context, dev *model.Device) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO devices (device_id, space_id, owner_id, device_type, device_name, online_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`,
		dev.ID, dev.SpaceID, dev.OwnerID, dev.Type, dev.Name, dev.Online, dev.CreatedAt, dev.UpdatedAt,
	); err != nil {
		return err
	}

	for _, sw := range dev.Switches {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_switches (device_id, switch_no, status, thing_name)
			VALUES ($1, $2, $3, $4);`,
			dev.ID, sw.No, sw.Status, sw.ThingName,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *Database) CreateTank(ctx context.Context, dev *model.Device) error {
	const query = `
	INSERT INTO devices (device_id, space_id, owner_id, device_type, device_name, online_status,
		parent_device_id, parent_switch_no, slave_name, level, minimum, maximum, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);`

	if dev.Parent == nil {
		return fmt.Errorf("tank %s needs a parent attachment: %w", dev.ID, model.ErrValidation)
	}
	if _, err := d.db.ExecContext(ctx, query,
		dev.ID, dev.SpaceID, dev.OwnerID, dev.Type, dev.Name, dev.Online,
		dev.Parent.ParentDeviceID, dev.Parent.ParentSwitchNo, dev.Parent.SlaveName,
		dev.Level, dev.Minimum, dev.Maximum, dev.CreatedAt, dev.UpdatedAt,
	); err != nil {
		return err
	}
	return nil
}

func (d *Database) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	query := `
	SELECT ` + deviceColumns + `
	FROM devices d
	LEFT JOIN device_switches s ON s.device_id = d.device_id
	WHERE d.device_id = $1
	ORDER BY s.switch_no;`

	rows, err := d.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices, err := scanDevices(rows)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("device %s: %w", deviceID, model.ErrNotFound)
	}
	return &devices[0], nil
}

// GetBaseByThingName resolves the base box a report topic belongs to.
func (d *Database) GetBaseByThingName(ctx context.Context, thingName string) (*model.Device, error) {
	query := `
	SELECT ` + deviceColumns + `
	FROM devices d
	LEFT JOIN device_switches s ON s.device_id = d.device_id
	WHERE d.device_id = (SELECT device_id FROM device_switches WHERE thing_name = $1 LIMIT 1)
	ORDER BY s.switch_no;`

	rows, err := d.db.QueryContext(ctx, query, thingName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices, err := scanDevices(rows)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("thing %s: %w", thingName, model.ErrNotFound)
	}
	return &devices[0], nil
}

func (d *Database) ListDevicesBySpace(ctx context.Context, spaceID string) ([]model.Device, error) {
	query := `
	SELECT ` + deviceColumns + `
	FROM devices d
	LEFT JOIN device_switches s ON s.device_id = d.device_id
	WHERE d.space_id = $1
	ORDER BY d.created_at, d.device_id, s.switch_no;`

	rows, err := d.db.QueryContext(ctx, query, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDevices(rows)
}

// ListTanksByParent returns the tanks hanging off a base, in slot order.
func (d *Database) ListTanksByParent(ctx context.Context, parentDeviceID string) ([]model.Device, error) {
	query := `
	SELECT ` + deviceColumns + `
	FROM devices d
	LEFT JOIN device_switches s ON s.device_id = d.device_id
	WHERE d.parent_device_id = $1
	ORDER BY d.slave_name;`

	rows, err := d.db.QueryContext(ctx, query, parentDeviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDevices(rows)
}

func (d *Database) UpdateSwitchStatus(ctx context.Context, deviceID string, switchNo model.SwitchNo, status bool) error {
	const query = `
	UPDATE device_switches SET status = $3
	WHERE device_id = $1 AND switch_no = $2;`

	res, err := d.db.ExecContext(ctx, query, deviceID, switchNo, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("switch %s/%s: %w", deviceID, switchNo, model.ErrNotFound)
	}
	return nil
}

// UpdateSwitchStatuses commits a batch of switch writes atomically. Rule
// execution uses this as its single commit at the end of an action list.
func (d *Database) UpdateSwitchStatuses(ctx context.Context, states []model.SwitchState) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, st := range states {
		if _, err := tx.ExecContext(ctx, `
			UPDATE device_switches SET status = $3
			WHERE device_id = $1 AND switch_no = $2;`,
			st.DeviceID, st.SwitchNo, st.Status,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *Database) UpdateTankLevel(ctx context.Context, deviceID string, level float64) error {
	const query = `
	UPDATE devices SET level = $2, updated_at = now()
	WHERE device_id = $1 AND device_type = 'tank';`

	res, err := d.db.ExecContext(ctx, query, deviceID, level)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("tank %s: %w", deviceID, model.ErrNotFound)
	}
	return nil
}

func (d *Database) UpdateTankThresholds(ctx context.Context, deviceID string, minimum, maximum float64) error {
	const query = `
	UPDATE devices SET minimum = $2, maximum = $3, updated_at = now()
	WHERE device_id = $1 AND device_type = 'tank';`

	res, err := d.db.ExecContext(ctx, query, deviceID, minimum, maximum)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("tank %s: %w", deviceID, model.ErrNotFound)
	}
	return nil
}

// SetOnlineStatus flips online_status only when it differs, reporting
// whether a transition happened. Liveness tracking relies on the
// changed/not-changed distinction to emit each transition exactly once.
func (d *Database) SetOnlineStatus(ctx context.Context, deviceID string, online bool) (bool, *model.Device, error) {
	const query = `
	UPDATE devices SET online_status = $2, updated_at = now()
	WHERE device_id = $1 AND online_status <> $2
	RETURNING device_id, space_id, device_name, device_type;`

	dev := &model.Device{}
	err := d.db.QueryRowContext(ctx, query, deviceID, online).
		Scan(&dev.ID, &dev.SpaceID, &dev.Name, &dev.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	dev.Online = online
	return true, dev, nil
}

func (d *Database) DeleteDevice(ctx context.Context, deviceID string) error {
	const query = `DELETE FROM devices WHERE device_id = $1;`

	res, err := d.db.ExecContext(ctx, query, deviceID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrNotFound)
	}
	return nil
}

func scanDevices(rows *sql.Rows) ([]model.Device, error) {
	var devices []model.Device
	index := map[string]int{}
	for rows.Next() {
		var (
			dev                               model.Device
			parentID, parentSwitch, slaveName sql.NullString
			switchNo, thingName               sql.NullString
			status                            sql.NullBool
		)
		if err := rows.Scan(
			&dev.ID, &dev.SpaceID, &dev.OwnerID, &dev.Type, &dev.Name, &dev.Online,
			&parentID, &parentSwitch, &slaveName,
			&dev.Level, &dev.Minimum, &dev.Maximum, &dev.CreatedAt, &dev.UpdatedAt,
			&switchNo, &status, &thingName,
		); err != nil {
			return nil, err
		}

		i, seen := index[dev.ID]
		if !seen {
			if parentID.Valid {
				dev.Parent = &model.TankAttachment{
					ParentDeviceID: parentID.String,
					ParentSwitchNo: model.SwitchNo(parentSwitch.String),
					SlaveName:      model.SlaveName(slaveName.String),
				}
			}
			devices = append(devices, dev)
			i = len(devices) - 1
			index[dev.ID] = i
		}
		if switchNo.Valid {
			devices[i].Switches = append(devices[i].Switches, model.Switch{
				No:        model.SwitchNo(switchNo.String),
				Status:    status.Bool,
				ThingName: thingName.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}
