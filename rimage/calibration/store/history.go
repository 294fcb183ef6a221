package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/camcal/camcal/rimage/calibration"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one stored calibration run.
type Entry struct {
	ID        uuid.UUID
	CreatedAt time.Time
	// Source describes where the views came from, e.g. an image folder.
	Source string
	Record calibration.Record
}

// History is a SQLite database of past calibrations.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, errors.Wrapf(err, "cannot initialize history schema in %s", path)
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Save appends rec to the history and returns the new entry.
func (h *History) Save(ctx context.Context, source string, rec calibration.Record) (Entry, error) {
	data, err := MarshalRecord(rec)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{ID: uuid.New(), CreatedAt: time.Now().UTC(), Source: source, Record: rec}
	query := `
		INSERT INTO calibrations
			(id, created_at, source, width, height, distortion_model, view_count, overall_rms_error, quality_verdict, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = h.db.ExecContext(ctx, query,
		entry.ID.String(),
		entry.CreatedAt.UnixNano(),
		source,
		rec.Resolution.Width,
		rec.Resolution.Height,
		string(rec.DistortionModel),
		rec.ViewCount,
		rec.OverallRMSError,
		string(rec.QualityVerdict),
		string(data),
	)
	if err != nil {
		return Entry{}, errors.Wrap(err, "failed to insert calibration")
	}
	return entry, nil
}

// List returns up to limit entries, newest first. A non-positive limit returns all of them.
func (h *History) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, created_at, source, record_json FROM calibrations ORDER BY created_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query calibrations")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry with the given ID.
func (h *History) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, created_at, source, record_json FROM calibrations WHERE id = ?`, id.String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, errors.Errorf("no calibration with id %s", id)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		id, source, recordJSON string
		createdAt              int64
	)
	if err := s.Scan(&id, &createdAt, &source, &recordJSON); err != nil {
		return Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "bad calibration id %q", id)
	}
	var rec calibration.Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return Entry{}, errors.Wrapf(err, "bad record for calibration %s", id)
	}
	return Entry{ID: parsed, CreatedAt: time.Unix(0, createdAt).UTC(), Source: source, Record: rec}, nil
}
