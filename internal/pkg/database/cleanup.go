package database

import (
	"context"
	"time"
)

// Cleanup removes notifications older than the retention window and returns
// the number of rows dropped.
func (d *Database) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := d.db.ExecContext(ctx, "DELETE FROM notifications WHERE created_at < $1", time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
