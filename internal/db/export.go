package db

import (
	"context"
	"fmt"
)

var exportTables = []string{"doctors", "working_hours", "patients", "appointments", "appointment_history"}

// TableNames returns the tables included in a full export.
func (db *DB) TableNames() []string {
	return append([]string(nil), exportTables...)
}

// TableData returns the column names and rows of a table as strings.
func (db *DB) TableData(ctx context.Context, table string) ([]string, [][]string, error) {
	allowed := false
	for _, t := range exportTables {
		if t == table {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, nil, fmt.Errorf("table %q is not exportable", table)
	}

	rows, err := db.QueryContext(ctx, `SELECT * FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data [][]string
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make([]string, len(columns))
		for i, v := range values {
			switch val := v.(type) {
			case nil:
				row[i] = ""
			case []byte:
				row[i] = string(val)
			default:
				row[i] = fmt.Sprint(val)
			}
		}
		data = append(data, row)
	}
	return columns, data, rows.Err()
}
