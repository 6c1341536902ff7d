package config

import (
	"fmt"
	"strings"
)

// dialect captures the few statements that differ between drivers.
type dialect struct {
	name          string
	driverName    string
	createTable   string
	timestamp     string
	boolType      string
	textType      string
	indexPrefix   string
	tableHint     string
	lockClause    string
	upsertSetting string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:        "sqlite",
		driverName:  "sqlite",
		createTable: "CREATE TABLE IF NOT EXISTS",
		timestamp:   "DATETIME",
		boolType:    "BOOLEAN NOT NULL DEFAULT FALSE",
		textType:    "TEXT",
		indexPrefix: "CREATE INDEX IF NOT EXISTS",
		upsertSetting: `INSERT INTO settings (name, value) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
	},
	"postgres": {
		name:        "postgres",
		driverName:  "pgx",
		createTable: "CREATE TABLE IF NOT EXISTS",
		timestamp:   "TIMESTAMPTZ",
		boolType:    "BOOLEAN NOT NULL DEFAULT FALSE",
		textType:    "TEXT",
		indexPrefix: "CREATE INDEX IF NOT EXISTS",
		lockClause:  " FOR UPDATE",
		upsertSetting: `INSERT INTO settings (name, value) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
	},
	"mysql": {
		name:        "mysql",
		driverName:  "mysql",
		createTable: "CREATE TABLE IF NOT EXISTS",
		timestamp:   "DATETIME(6)",
		boolType:    "BOOLEAN NOT NULL DEFAULT FALSE",
		textType:    "TEXT",
		indexPrefix: "CREATE INDEX",
		lockClause:  " FOR UPDATE",
		upsertSetting: `INSERT INTO settings (name, value) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value)`,
	},
	// SQL Server has no IF NOT EXISTS on CREATE TABLE; a rerun reports
	// the object as present and isAlreadyApplied skips it.
	"sqlserver": {
		name:        "sqlserver",
		driverName:  "sqlserver",
		createTable: "CREATE TABLE",
		timestamp:   "DATETIME2",
		boolType:    "BIT NOT NULL DEFAULT 0",
		textType:    "NVARCHAR(MAX)",
		indexPrefix: "CREATE INDEX",
		tableHint:   " WITH (UPDLOCK, ROWLOCK)",
		upsertSetting: `MERGE settings WITH (HOLDLOCK) AS t
			USING (SELECT ? AS name, ? AS value) AS s ON t.name = s.name
			WHEN MATCHED THEN UPDATE SET value = s.value
			WHEN NOT MATCHED THEN INSERT (name, value) VALUES (s.name, s.value);`,
	},
}

func (s *Store) migrate() error {
	d := s.dialect
	migrations := []string{
		fmt.Sprintf(`%[1]s identities (
			name VARCHAR(64) PRIMARY KEY,
			secret_hash VARCHAR(255) NOT NULL,
			is_privileged %[3]s,
			email VARCHAR(255) NOT NULL DEFAULT '',
			full_name VARCHAR(255) NOT NULL DEFAULT '',
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			last_login_at %[2]s NULL,
			deleted_at %[2]s NULL
		)`, d.createTable, d.timestamp, d.boolType),

		d.indexPrefix + ` idx_identities_deleted_at ON identities(deleted_at)`,

		fmt.Sprintf(`%s settings (
			name VARCHAR(128) PRIMARY KEY,
			value %s NOT NULL
		)`, d.createTable, d.textType),
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Re-running a CREATE without IF NOT EXISTS reports
			// the object as present; treat that as a no-op.
			if isAlreadyApplied(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func isAlreadyApplied(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "Duplicate key name") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "There is already an object named") ||
		strings.Contains(msg, "already has an index named")
}
