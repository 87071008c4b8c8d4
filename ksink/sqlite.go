package ksink

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const insertRow = `INSERT INTO feature_rows (
    event_id, event_type, timestamp, fn_id, feature_id, feature_type,
    entity_type, entity_id, value, value_int, value_float, value_string,
    value_bool, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

// SQLiteSink writes feature rows to a local SQLite database. A row is
// identified by event, function, feature and entity, so redelivered events
// do not produce duplicates.
type SQLiteSink struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write inserts rows in a single transaction.
func (s *SQLiteSink) Write(ctx context.Context, rows []kfn.FeatureRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, insertRow)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var value any
		if r.Value != "" {
			value = r.Value
		}
		if _, err := stmt.ExecContext(ctx,
			r.EventID, r.EventType, r.Timestamp.UnixMilli(), r.FnID, r.FeatureID, string(r.FeatureType),
			r.EntityType, r.EntityID, value, r.ValueInt, r.ValueFloat, r.ValueString,
			r.ValueBool, r.Error,
		); err != nil {
			return fmt.Errorf("insert row %s/%s: %w", r.EventID, r.FeatureID, err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op, Write is synchronous.
func (s *SQLiteSink) Flush(context.Context) error { return nil }

func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// FeatureHistory returns every row of a feature for one entity, oldest first.
func (s *SQLiteSink) FeatureHistory(ctx context.Context, featureID string, entity kschema.Entity) ([]kfn.FeatureRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
    event_id, event_type, timestamp, fn_id, feature_id, feature_type,
    entity_type, entity_id, value, value_int, value_float, value_string,
    value_bool, error
FROM feature_rows
WHERE feature_id = ? AND entity_type = ? AND entity_id = ?
ORDER BY timestamp, event_id`, featureID, entity.Type, entity.ID)
	if err != nil {
		return nil, fmt.Errorf("query feature history: %w", err)
	}
	defer rows.Close()

	var out []kfn.FeatureRow
	for rows.Next() {
		var (
			r           kfn.FeatureRow
			ts          int64
			featureType string
			value       sql.NullString
			valueInt    sql.NullInt64
			valueFloat  sql.NullFloat64
			valueString sql.NullString
			valueBool   sql.NullBool
			errMsg      sql.NullString
		)
		if err := rows.Scan(
			&r.EventID, &r.EventType, &ts, &r.FnID, &r.FeatureID, &featureType,
			&r.EntityType, &r.EntityID, &value, &valueInt, &valueFloat, &valueString,
			&valueBool, &errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		r.FeatureType = kschema.Kind(featureType)
		r.Value = value.String
		if valueInt.Valid {
			r.ValueInt = &valueInt.Int64
		}
		if valueFloat.Valid {
			r.ValueFloat = &valueFloat.Float64
		}
		if valueString.Valid {
			r.ValueString = &valueString.String
		}
		if valueBool.Valid {
			r.ValueBool = &valueBool.Bool
		}
		if errMsg.Valid {
			r.Error = &errMsg.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
