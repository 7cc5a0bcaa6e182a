package database

import (
	"fmt"
	"strings"

	"github.com/voicetel/ticketboard/internal/config"
)

type dialect struct {
	name string
	// autoIncrementPK is the column definition of a surrogate key.
	autoIncrementPK string
	// hasColumnQuery counts columns named ? on the table named ?.
	hasColumnQuery string
	vacuum         []string
	mysqlUpsert    bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverSQLite:
		return dialect{
			name:            driver,
			autoIncrementPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
			hasColumnQuery:  `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
			vacuum:          []string{"VACUUM"},
		}, nil
	case config.DriverPostgres:
		return dialect{
			name:            driver,
			autoIncrementPK: "BIGSERIAL PRIMARY KEY",
			hasColumnQuery: `SELECT COUNT(*) FROM information_schema.columns
				WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`,
			vacuum: []string{"VACUUM ANALYZE issues", "VACUUM ANALYZE sync_runs"},
		}, nil
	case config.DriverMySQL:
		return dialect{
			name:            driver,
			autoIncrementPK: "BIGINT AUTO_INCREMENT PRIMARY KEY",
			hasColumnQuery: `SELECT COUNT(*) FROM information_schema.columns
				WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`,
			vacuum:      []string{"OPTIMIZE TABLE issues, sync_runs"},
			mysqlUpsert: true,
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// upsert builds an insert that overwrites every non-key column when key
// already exists. Placeholders are '?' and must be rebound by the caller.
func (d dialect) upsert(table, key string, columns []string) string {
	all := append([]string{key}, columns...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")

	sets := make([]string, len(columns))
	for i, c := range columns {
		if d.mysqlUpsert {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		} else {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
	}

	conflict := fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET", key)
	if d.mysqlUpsert {
		conflict = "ON DUPLICATE KEY UPDATE"
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s %s",
		table, strings.Join(all, ", "), placeholders, conflict, strings.Join(sets, ", "))
}
