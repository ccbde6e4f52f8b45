package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

const setupColumns = `
	s.setup_id, s.space_id, s.name, s.active,
	s.condition_device_id, s.condition_type, s.condition_switch_no, s.condition_status,
	s.condition_minimum, s.condition_maximum, s.condition_operator,
	s.last_triggered, s.created_at,
	a.position, a.device_id, a.switch_no, a.set_status, a.delay_seconds`

// CreateSetup inserts the rule row and its ordered actions in one
// transaction.
func (d *Database) CreateSetup(ctx context.Context, setup *model.Setup) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO setups (setup_id, space_id, name, active,
			condition_device_id, condition_type, condition_switch_no, condition_status,
			condition_minimum, condition_maximum, condition_operator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);`,
		setup.ID, setup.SpaceID, setup.Name, setup.Active,
		setup.Condition.DeviceID, setup.Condition.DeviceType,
		nullString(setup.Condition.SwitchNo.String()), setup.Condition.Status,
		setup.Condition.Minimum, setup.Condition.Maximum,
		nullString(setup.Condition.Operator.String()), setup.CreatedAt,
	); err != nil {
		return err
	}

	if err := insertActions(ctx, tx, setup.ID, setup.Actions); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateSetup replaces the rule row and rewrites its action list.
func (d *Database) UpdateSetup(ctx context.Context, setup *model.Setup) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE setups SET name = $2, active = $3,
			condition_device_id = $4, condition_type = $5, condition_switch_no = $6,
			condition_status = $7, condition_minimum = $8, condition_maximum = $9,
			condition_operator = $10
		WHERE setup_id = $1;`,
		setup.ID, setup.Name, setup.Active,
		setup.Condition.DeviceID, setup.Condition.DeviceType,
		nullString(setup.Condition.SwitchNo.String()), setup.Condition.Status,
		setup.Condition.Minimum, setup.Condition.Maximum,
		nullString(setup.Condition.Operator.String()),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("setup %s: %w", setup.ID, model.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM setup_actions WHERE setup_id = $1;`, setup.ID); err != nil {
		return err
	}
	if err := insertActions(ctx, tx, setup.ID, setup.Actions); err != nil {
		return err
	}

	return tx.Commit()
}

func insertActions(ctx context.Context, tx *sql.Tx, setupID string, actions []model.Action) error {
	for i, action := range actions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO setup_actions (setup_id, position, device_id, switch_no, set_status, delay_seconds)
			VALUES ($1, $2, $3, $4, $5, $6);`,
			setupID, i, action.DeviceID, action.SwitchNo, action.SetStatus, action.DelaySecs,
		); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) GetSetup(ctx context.Context, setupID string) (*model.Setup, error) {
	query := `
	SELECT ` + setupColumns + `
	FROM setups s
	LEFT JOIN setup_actions a ON a.setup_id = s.setup_id
	WHERE s.setup_id = $1
	ORDER BY a.position;`

	rows, err := d.db.QueryContext(ctx, query, setupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	setups, err := scanSetups(rows)
	if err != nil {
		return nil, err
	}
	if len(setups) == 0 {
		return nil, fmt.Errorf("setup %s: %w", setupID, model.ErrNotFound)
	}
	return &setups[0], nil
}

func (d *Database) ListSetupsBySpace(ctx context.Context, spaceID string) ([]model.Setup, error) {
	query := `
	SELECT ` + setupColumns + `
	FROM setups s
	LEFT JOIN setup_actions a ON a.setup_id = s.setup_id
	WHERE s.space_id = $1
	ORDER BY s.created_at, s.setup_id, a.position;`

	rows, err := d.db.QueryContext(ctx, query, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSetups(rows)
}

// ListActiveSetupsForDevice returns the active rules watching a device, in
// insertion order. Rule passes iterate this order.
func (d *Database) ListActiveSetupsForDevice(ctx context.Context, conditionDeviceID string) ([]model.Setup, error) {
	query := `
	SELECT ` + setupColumns + `
	FROM setups s
	LEFT JOIN setup_actions a ON a.setup_id = s.setup_id
	WHERE s.condition_device_id = $1 AND s.active
	ORDER BY s.created_at, s.setup_id, a.position;`

	rows, err := d.db.QueryContext(ctx, query, conditionDeviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSetups(rows)
}

func (d *Database) SetSetupActive(ctx context.Context, setupID string, active bool) error {
	const query = `UPDATE setups SET active = $2 WHERE setup_id = $1;`

	res, err := d.db.ExecContext(ctx, query, setupID, active)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("setup %s: %w", setupID, model.ErrNotFound)
	}
	return nil
}

func (d *Database) StampSetupTriggered(ctx context.Context, setupID string, at time.Time) error {
	const query = `UPDATE setups SET last_triggered = $2 WHERE setup_id = $1;`

	if _, err := d.db.ExecContext(ctx, query, setupID, at); err != nil {
		return err
	}
	return nil
}

func (d *Database) DeleteSetup(ctx context.Context, setupID string) error {
	const query = `DELETE FROM setups WHERE setup_id = $1;`

	res, err := d.db.ExecContext(ctx, query, setupID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("setup %s: %w", setupID, model.ErrNotFound)
	}
	return nil
}

func scanSetups(rows *sql.Rows) ([]model.Setup, error) {
	var setups []model.Setup
	index := map[string]int{}
	for rows.Next() {
		var (
			setup              model.Setup
			condSwitch, condOp sql.NullString
			condStatus         sql.NullBool
			condMin, condMax   sql.NullFloat64
			lastTriggered      sql.NullTime
			position           sql.NullInt64
			actionDevice       sql.NullString
			actionSwitch       sql.NullString
			actionStatus       sql.NullBool
			actionDelay        sql.NullInt64
		)
		if err := rows.Scan(
			&setup.ID, &setup.SpaceID, &setup.Name, &setup.Active,
			&setup.Condition.DeviceID, &setup.Condition.DeviceType, &condSwitch, &condStatus,
			&condMin, &condMax, &condOp,
			&lastTriggered, &setup.CreatedAt,
			&position, &actionDevice, &actionSwitch, &actionStatus, &actionDelay,
		); err != nil {
			return nil, err
		}

		i, seen := index[setup.ID]
		if !seen {
			setup.Condition.SwitchNo = model.SwitchNo(condSwitch.String)
			setup.Condition.Operator = model.Operator(condOp.String)
			if condStatus.Valid {
				status := condStatus.Bool
				setup.Condition.Status = &status
			}
			if condMin.Valid {
				minimum := condMin.Float64
				setup.Condition.Minimum = &minimum
			}
			if condMax.Valid {
				maximum := condMax.Float64
				setup.Condition.Maximum = &maximum
			}
			if lastTriggered.Valid {
				at := lastTriggered.Time
				setup.LastTriggered = &at
			}
			setups = append(setups, setup)
			i = len(setups) - 1
			index[setup.ID] = i
		}
		if position.Valid {
			setups[i].Actions = append(setups[i].Actions, model.Action{
				DeviceID:  actionDevice.String,
				SwitchNo:  model.SwitchNo(actionSwitch.String),
				SetStatus: actionStatus.Bool,
				DelaySecs: int(actionDelay.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return setups, nil
}
