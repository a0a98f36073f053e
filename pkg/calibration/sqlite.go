package calibration

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schema.sql defines the model row and the sample log.
//
//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps the snapshot in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open calibration db: %w", err)
	}
	// One connection so ":memory:" databases are shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply calibration schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the model row and every sample in insertion order.
func (s *SQLiteStore) Load() (Snapshot, error) {
	var snap Snapshot

	var calibrated int
	p := &snap.Model.Params
	err := s.db.QueryRow(`
		SELECT calibrated, c1, c2, c3, c4, c5, c6
		FROM calibration_model WHERE id = 1
	`).Scan(&calibrated, &p.C1, &p.C2, &p.C3, &p.C4, &p.C5, &p.C6)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Snapshot{}, fmt.Errorf("failed to query calibration model: %w", err)
	default:
		snap.Model.Calibrated = calibrated != 0
	}

	rows, err := s.db.Query(`
		SELECT id, pan, tilt, x, y, ts_ns, kind
		FROM calibration_samples
		ORDER BY seq
	`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query calibration samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var smp Sample
		var tsNs int64
		var kind string
		if err := rows.Scan(&smp.ID, &smp.Pan, &smp.Tilt, &smp.X, &smp.Y, &tsNs, &kind); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan calibration sample: %w", err)
		}
		smp.Timestamp = time.Unix(0, tsNs)
		smp.Kind = SampleKind(kind)
		snap.Samples = append(snap.Samples, smp)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read calibration samples: %w", err)
	}
	return snap, nil
}

// Save replaces the stored snapshot in one transaction.
func (s *SQLiteStore) Save(snap Snapshot) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM calibration_samples`); err != nil {
		return fmt.Errorf("failed to clear calibration samples: %w", err)
	}

	calibrated := 0
	if snap.Model.Calibrated {
		calibrated = 1
	}
	p := snap.Model.Params
	_, err = tx.Exec(`
		INSERT INTO calibration_model (id, calibrated, c1, c2, c3, c4, c5, c6, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, UNIXEPOCH())
		ON CONFLICT(id) DO UPDATE SET
			calibrated = excluded.calibrated,
			c1 = excluded.c1, c2 = excluded.c2, c3 = excluded.c3,
			c4 = excluded.c4, c5 = excluded.c5, c6 = excluded.c6,
			updated_at = excluded.updated_at
	`, calibrated, p.C1, p.C2, p.C3, p.C4, p.C5, p.C6)
	if err != nil {
		return fmt.Errorf("failed to write calibration model: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO calibration_samples (id, seq, pan, tilt, x, y, ts_ns, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, smp := range snap.Samples {
		if _, err = stmt.Exec(smp.ID, i, smp.Pan, smp.Tilt, smp.X, smp.Y, smp.Timestamp.UnixNano(), string(smp.Kind)); err != nil {
			return fmt.Errorf("failed to insert calibration sample %s: %w", smp.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit calibration: %w", err)
	}
	return nil
}
