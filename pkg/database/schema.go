package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// Column types as each driver reports them
var columnTypes = map[string]map[string]string{
	DriverSQLite: {
		"TEXT":      "TEXT",
		"INTEGER":   "INTEGER",
		"TIMESTAMP": "TIMESTAMP",
		"BOOLEAN":   "BOOLEAN",
	},
	DriverPostgres: {
		"TEXT":      "text",
		"INTEGER":   "integer",
		"TIMESTAMP": "timestamp without time zone",
		"BOOLEAN":   "boolean",
	},
}

// RequiredTables lists the archive tables with their purpose
var RequiredTables = map[string]string{
	"poll_results":      "Closed question snapshots",
	"poll_answers":      "Per-student answer breakdown",
	"chat_messages":     "Chat message archive",
	"schema_migrations": "Migration tracking",
}

// RequiredIndexes lists the archive indexes with their purpose
var RequiredIndexes = map[string]string{
	"idx_poll_results_closed_at":   "Recent poll listing",
	"idx_poll_answers_student":     "Per-student answer lookup",
	"idx_chat_messages_created_at": "Recent chat listing",
}

var tableColumns = map[string]map[string]string{
	"poll_results": {
		"id":              "TEXT",
		"question_text":   "TEXT",
		"created_at":      "TIMESTAMP",
		"closed_at":       "TIMESTAMP",
		"duration":        "INTEGER",
		"close_reason":    "TEXT",
		"total_responses": "INTEGER",
		"snapshot":        "TEXT",
		"archived_at":     "TIMESTAMP",
	},
	"poll_answers": {
		"poll_id":      "TEXT",
		"student_id":   "TEXT",
		"student_name": "TEXT",
		"option_id":    "TEXT",
		"option_label": "TEXT",
		"is_correct":   "BOOLEAN",
		"answered_at":  "TIMESTAMP",
	},
	"chat_messages": {
		"id":          "TEXT",
		"author_id":   "TEXT",
		"author_role": "TEXT",
		"author_name": "TEXT",
		"content":     "TEXT",
		"created_at":  "TIMESTAMP",
		"archived_at": "TIMESTAMP",
	},
}

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db     *sql.DB
	driver string
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB, driver string) *SchemaValidator {
	return &SchemaValidator{db: db, driver: driver}
}

// Validate runs the table, column and index checks
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range RequiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies table columns and their types
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range tableColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all listing indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range RequiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies the database rejects rows the archive must never hold.
// Each probe runs in its own rolled-back transaction.
func (v *SchemaValidator) ValidateConstraints() error {
	probes := []struct {
		name  string
		query string
		args  []interface{}
	}{
		{
			name: "foreign key poll_answers.poll_id",
			query: `INSERT INTO poll_answers (poll_id, student_id, student_name, option_id, option_label, is_correct, answered_at)
				VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			args: []interface{}{"missing-poll", "s1", "Student", "A", "Alpha", false},
		},
		{
			name: "check poll_results.close_reason",
			query: `INSERT INTO poll_results (id, question_text, created_at, closed_at, duration, close_reason, snapshot)
				VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, ?, ?, ?)`,
			args: []interface{}{"constraint-probe", "Q", 60, "bored", "{}"},
		},
		{
			name: "check chat_messages.author_role",
			query: `INSERT INTO chat_messages (id, author_id, author_role, author_name, content, created_at)
				VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			args: []interface{}{"constraint-probe", "a1", "admin", "Admin", "hi"},
		},
	}

	for _, probe := range probes {
		accepted, err := v.probe(probe.query, probe.args...)
		if err != nil {
			return fmt.Errorf("failed to probe %s: %w", probe.name, err)
		}
		if accepted {
			return fmt.Errorf("constraint not enforced: %s", probe.name)
		}
	}
	return nil
}

// probe reports whether the insert was accepted, always rolling it back
func (v *SchemaValidator) probe(query string, args ...interface{}) (bool, error) {
	tx, err := v.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(Rebind(v.driver, query), args...)
	return err == nil, nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}
	return v.exists(query, tableName)
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = ?"
	}
	return v.exists(query, indexName)
}

func (v *SchemaValidator) exists(query, name string) (bool, error) {
	var count int
	if err := v.db.QueryRow(Rebind(v.driver, query), name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// columns returns column name -> declared type for a table
func (v *SchemaValidator) columns(tableName string) (map[string]string, error) {
	found := make(map[string]string)

	if v.driver == DriverPostgres {
		rows, err := v.db.Query(
			"SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1",
			tableName,
		)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var name, dataType string
			if err := rows.Scan(&name, &dataType); err != nil {
				return nil, err
			}
			found[name] = dataType
		}
		return found, rows.Err()
	}

	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		found[name] = strings.ToUpper(dataType)
	}
	return found, rows.Err()
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	found, err := v.columns(tableName)
	if err != nil {
		return err
	}

	types := columnTypes[v.driver]
	for column, logical := range expected {
		foundType, exists := found[column]
		if !exists {
			return fmt.Errorf("column %s not found", column)
		}
		if want := types[logical]; foundType != want {
			return fmt.Errorf("column %s has type %s, expected %s", column, foundType, want)
		}
	}
	return nil
}
