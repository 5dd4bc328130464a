package storage

import "fmt"

// DeleteOlderThan deletes rows from all tables with a timestamp before the
// given unix epoch seconds. Returns the total number of deleted rows.
func (d *DB) DeleteOlderThan(before int64) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	var total int64
	// Identifiers cannot be placeholders; the names are constants.
	for _, table := range []string{"readings", "process_shares"} {
		res, err := tx.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE timestamp_ms < ?", table),
			before*1000,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("delete from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}
