package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"breakd/internal/event"
	"breakd/internal/storage"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(dbPath string) storage.Storage {
	return &SQLiteStore{dbPath: dbPath}
}

const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	type TEXT NOT NULL,
	value REAL,
	notes TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records (timestamp);
CREATE INDEX IF NOT EXISTS idx_records_type ON records (type);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	log.Printf("Initializing SQLite database at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	// SQLite is best with a single writer connection.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createRecordsTableSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create records table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, r event.Record) (int64, error) {
	query := `INSERT INTO records (timestamp, type, value, notes) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, r.Timestamp, r.Type, r.Value, r.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetRecords(ctx context.Context, start, end time.Time, types ...event.RecordType) ([]event.Record, error) {
	query := `SELECT id, timestamp, type, value, notes
	          FROM records
	          WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{start, end}

	if len(types) > 0 {
		placeholders := strings.Repeat("?,", len(types)-1) + "?"
		query += fmt.Sprintf(" AND type IN (%s)", placeholders)
		for _, t := range types {
			args = append(args, t)
		}
	}

	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		var r event.Record
		var value sql.NullFloat64
		var notes sql.NullString

		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Type, &value, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		r.Value = value.Float64
		r.Notes = notes.String
		records = append(records, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		log.Println("Closing database connection.")
		return s.db.Close()
	}
	return nil
}
