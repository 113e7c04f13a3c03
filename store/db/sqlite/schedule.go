package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/heriberto777/transferengine/store"
)

// GetSchedule returns the singleton schedule row, defaulting to the
// disabled 02:00 configuration if it has never been set.
func (d *DB) GetSchedule(ctx context.Context) (*store.ScheduleConfig, error) {
	var cfg store.ScheduleConfig
	var enabled int
	err := d.db.QueryRowContext(ctx, `SELECT hour, enabled FROM schedule_config WHERE id = 1`).
		Scan(&cfg.Hour, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.ScheduleConfig{Hour: "02:00", Enabled: false}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get schedule")
	}
	cfg.Enabled = enabled != 0
	return &cfg, nil
}

func (d *DB) SetSchedule(ctx context.Context, c *store.ScheduleConfig) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO schedule_config (id, hour, enabled) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hour = excluded.hour, enabled = excluded.enabled`,
		c.Hour, boolToInt(c.Enabled),
	)
	if err != nil {
		return errors.Wrap(err, "set schedule")
	}
	return nil
}
