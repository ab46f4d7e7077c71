package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const compartmentColumns = `id, locker_id, device_ref, size, temperature, status, condition, version`

func (p *SQLProvider) GetCompartment(ctx context.Context, id int64) (*Compartment, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var c Compartment
	err := p.db.GetContext(ctx, &c, `SELECT `+compartmentColumns+` FROM compartments WHERE id = ?`, id)
	if err != nil {
		return nil, p.notFound(err, "get compartment")
	}
	return &c, nil
}

// ListCompartments returns the compartments of one locker, or of every locker
// when lockerID is 0.
func (p *SQLProvider) ListCompartments(ctx context.Context, lockerID int64) ([]Compartment, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var out []Compartment
	var err error
	if lockerID == 0 {
		err = p.db.SelectContext(ctx, &out, `SELECT `+compartmentColumns+` FROM compartments ORDER BY locker_id, id`)
	} else {
		err = p.db.SelectContext(ctx, &out, `SELECT `+compartmentColumns+` FROM compartments WHERE locker_id = ? ORDER BY id`, lockerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list compartments: %w", err)
	}
	return out, nil
}

func (p *SQLProvider) UpdateCompartment(ctx context.Context, c *Compartment) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	res, err := p.db.ExecContext(ctx, updateCompartmentSQL, c.Size, c.Temperature, c.Status, c.Condition, c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("update compartment: %w", p.mapErr(err))
	}
	if err := casResult(res); err != nil {
		return err
	}
	c.Version++
	return nil
}

const updateCompartmentSQL = `UPDATE compartments SET
	size = ?, temperature = ?, status = ?, condition = ?, version = version + 1
	WHERE id = ? AND version = ?`

// UpsertCompartments stores the inventory reported by a locker. Rows are
// matched on the locker's own compartment id. For known compartments only the
// physical attributes are refreshed: status and condition belong to the
// reservation lifecycle once a row exists. Compartments the locker no longer
// reports are left untouched.
func (p *SQLProvider) UpsertCompartments(ctx context.Context, lockerID int64, compartments []Compartment) error {
	return p.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range compartments {
			c := &compartments[i]
			c.LockerID = lockerID
			if c.Status == "" {
				c.Status = CompartmentFree
			}
			if c.Condition == "" {
				c.Condition = ConditionGood
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO compartments
				(locker_id, device_ref, size, temperature, status, condition, version)
				VALUES (?, ?, ?, ?, ?, ?, 1)
				ON CONFLICT (locker_id, device_ref) DO UPDATE SET
					size = excluded.size,
					temperature = excluded.temperature,
					version = compartments.version + 1`,
				lockerID, c.DeviceRef, c.Size, c.Temperature, c.Status, c.Condition)
			if err != nil {
				return fmt.Errorf("upsert compartment %d: %w", c.DeviceRef, p.mapErr(err))
			}
			if err := tx.GetContext(ctx, c, `SELECT `+compartmentColumns+`
				FROM compartments WHERE locker_id = ? AND device_ref = ?`, lockerID, c.DeviceRef); err != nil {
				return fmt.Errorf("reload compartment %d: %w", c.DeviceRef, err)
			}
		}
		return nil
	})
}
