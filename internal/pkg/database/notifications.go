package database

import (
	"context"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

func (d *Database) CreateNotification(ctx context.Context, n *model.Notification) error {
	const query = `
	INSERT INTO notifications (notification_id, space_id, event_type, device_id, device_name,
		switch_no, rule_name, previous_status, new_status, message, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`

	if _, err := d.db.ExecContext(ctx, query,
		n.ID, n.SpaceID, n.Type, n.DeviceID, n.DeviceName,
		nullString(n.SwitchNo.String()), nullString(n.RuleName),
		n.PreviousStatus, n.NewStatus, n.Message, n.CreatedAt,
	); err != nil {
		return err
	}
	return nil
}

func (d *Database) ListNotificationsBySpace(ctx context.Context, spaceID string, limit int) ([]model.Notification, error) {
	const query = `
	SELECT notification_id, space_id, event_type, device_id, device_name,
		COALESCE(switch_no, ''), COALESCE(rule_name, ''), previous_status, new_status, message, created_at
	FROM notifications
	WHERE space_id = $1
	ORDER BY created_at DESC
	LIMIT $2;`

	rows, err := d.db.QueryContext(ctx, query, spaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID, &n.SpaceID, &n.Type, &n.DeviceID, &n.DeviceName,
			&n.SwitchNo, &n.RuleName, &n.PreviousStatus, &n.NewStatus, &n.Message, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}
