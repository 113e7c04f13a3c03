package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/heriberto777/transferengine/store"
)

func (d *DB) GetSchedule(ctx context.Context) (*store.ScheduleConfig, error) {
	var cfg store.ScheduleConfig
	err := d.db.QueryRowContext(ctx, `SELECT hour, enabled FROM schedule_config WHERE id = 1`).
		Scan(&cfg.Hour, &cfg.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.ScheduleConfig{Hour: "02:00", Enabled: false}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get schedule")
	}
	return &cfg, nil
}

func (d *DB) SetSchedule(ctx context.Context, c *store.ScheduleConfig) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO schedule_config (id, hour, enabled) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET hour = EXCLUDED.hour, enabled = EXCLUDED.enabled`,
		c.Hour, c.Enabled,
	)
	if err != nil {
		return errors.Wrap(err, "set schedule")
	}
	return nil
}
