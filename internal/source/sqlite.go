// Package source reads the offline master dataset that chunks are built
// from. The master database is a SQLite file with one table per record kind.
package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/category"
	"github.com/neetlogiq/datapack/internal/partition"
	"github.com/neetlogiq/datapack/pkg/types"
)

// Schema creates the master tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS colleges (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	stream TEXT NOT NULL,
	management TEXT NOT NULL DEFAULT '',
	seats INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS courses (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	stream TEXT NOT NULL,
	level TEXT NOT NULL DEFAULT '',
	duration_years INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cutoffs (
	id TEXT PRIMARY KEY,
	college_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	stream TEXT NOT NULL,
	level TEXT NOT NULL,
	year INTEGER NOT NULL,
	round INTEGER NOT NULL,
	quota TEXT NOT NULL DEFAULT '',
	seat_category TEXT NOT NULL DEFAULT '',
	opening_rank INTEGER NOT NULL DEFAULT 0,
	closing_rank INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cutoffs_year_round ON cutoffs(year, round);
`

// SQLiteSource reads records from a master database file.
type SQLiteSource struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens the master database at path.
func Open(ctx context.Context, path string, logger *zap.Logger) (*SQLiteSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	return &SQLiteSource{db: db, path: path, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// EnsureSchema creates any missing master tables.
func (s *SQLiteSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("source: create schema: %w", err)
	}
	return nil
}

// Insert writes records in one transaction, replacing rows with the same id.
func (s *SQLiteSource) Insert(ctx context.Context, records []types.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("source: begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		var err error
		switch v := r.(type) {
		case types.College:
			_, err = tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO colleges (id, name, state, city, stream, management, seats) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				v.ID, v.Name, v.State, v.City, v.Stream, v.Management, v.Seats)
		case types.Course:
			_, err = tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO courses (id, name, stream, level, duration_years) VALUES (?, ?, ?, ?, ?)`,
				v.ID, v.Name, v.Stream, string(v.Level), v.DurationYears)
		case types.CutoffRecord:
			_, err = tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO cutoffs (id, college_id, course_id, stream, level, year, round, quota, seat_category, opening_rank, closing_rank)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				v.ID, v.CollegeID, v.CourseID, v.Stream, string(v.Level), v.Year, v.Round, v.Quota, v.SeatCategory, v.OpeningRank, v.ClosingRank)
		default:
			err = fmt.Errorf("%w: %T", types.ErrUnknownRecordKind, r)
		}
		if err != nil {
			return fmt.Errorf("source: insert %s: %w", r.RecordID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("source: commit: %w", err)
	}
	return nil
}

// Load reads every record: colleges and courses by id, then cutoffs newest
// year first.
func (s *SQLiteSource) Load(ctx context.Context) ([]types.Record, error) {
	var out []types.Record

	colleges, err := s.query(ctx,
		`SELECT id, name, state, city, stream, management, seats FROM colleges ORDER BY id`,
		func(rows *sql.Rows) (types.Record, error) {
			var c types.College
			err := rows.Scan(&c.ID, &c.Name, &c.State, &c.City, &c.Stream, &c.Management, &c.Seats)
			return c, err
		})
	if err != nil {
		return nil, err
	}
	out = append(out, colleges...)

	courses, err := s.query(ctx,
		`SELECT id, name, stream, level, duration_years FROM courses ORDER BY id`,
		func(rows *sql.Rows) (types.Record, error) {
			var c types.Course
			var level string
			err := rows.Scan(&c.ID, &c.Name, &c.Stream, &level, &c.DurationYears)
			c.Level = types.Level(level)
			return c, err
		})
	if err != nil {
		return nil, err
	}
	out = append(out, courses...)

	cutoffs, err := s.query(ctx,
		`SELECT id, college_id, course_id, stream, level, year, round, quota, seat_category, opening_rank, closing_rank
		 FROM cutoffs ORDER BY year DESC, round, id`,
		func(rows *sql.Rows) (types.Record, error) {
			var c types.CutoffRecord
			var level string
			err := rows.Scan(&c.ID, &c.CollegeID, &c.CourseID, &c.Stream, &level, &c.Year, &c.Round,
				&c.Quota, &c.SeatCategory, &c.OpeningRank, &c.ClosingRank)
			c.Level = types.Level(level)
			return c, err
		})
	if err != nil {
		return nil, err
	}
	out = append(out, cutoffs...)

	s.logger.Info("source: loaded master dataset",
		zap.String("path", s.path),
		zap.Int("colleges", len(colleges)),
		zap.Int("courses", len(courses)),
		zap.Int("cutoffs", len(cutoffs)))
	return out, nil
}

func (s *SQLiteSource) query(ctx context.Context, q string, scan func(*sql.Rows) (types.Record, error)) ([]types.Record, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("source: query: %w", err)
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("source: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: iterate: %w", err)
	}
	return out, nil
}

// Index loads the dataset and indexes it by category for the builder. The
// returned source also yields the planner's DatasetStats.
func (s *SQLiteSource) Index(ctx context.Context, policy *category.Policy) (*partition.SliceSource, error) {
	records, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return partition.NewSliceSource(records, policy), nil
}
