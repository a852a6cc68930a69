package store

import (
	"database/sql"
	"fmt"

	"gridrun/internal/logging"
)

// Migration adds a column to a ledger created by an older gridrun.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists columns added after the first ledger schema.
var pendingMigrations = []Migration{
	// retry round of each attempt
	{"submissions", "round", "INTEGER DEFAULT 0"},
	// batch that produced a status report
	{"status_reports", "batch_id", "TEXT DEFAULT ''"},
	{"status_reports", "failed_outputs", "TEXT DEFAULT ''"},
}

// RunMigrations applies additive schema migrations.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	applied, skipped := 0, 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logging.StoreDebug("Table missing, skipping migration: %s.%s", m.Table, m.Column)
			skipped++
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			skipped++
			continue
		}

		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", applied, skipped)
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}
