// Package postgres stores observations and unmatched locations in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/unmatched"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		source_record_id TEXT NOT NULL,
		variable_code    TEXT NOT NULL,
		source           TEXT NOT NULL,
		location_id      TEXT NOT NULL,
		location_name    TEXT NOT NULL,
		admin_level      INT NOT NULL,
		original_location TEXT NOT NULL DEFAULT '',
		value            DOUBLE PRECISION NOT NULL CHECK (value >= 0),
		unit             TEXT NOT NULL,
		period_kind      TEXT NOT NULL,
		start_date       DATE NOT NULL,
		end_date         DATE NOT NULL,
		text             TEXT NOT NULL DEFAULT '',
		processed_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (source_record_id, variable_code),
		CHECK (start_date <= end_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_source_variable_end ON observations(source, variable_code, end_date)`,
	`CREATE TABLE IF NOT EXISTS unmatched_locations (
		name              TEXT NOT NULL,
		source            TEXT NOT NULL,
		code              TEXT NOT NULL DEFAULT '',
		admin_level_guess INT NOT NULL,
		context           TEXT NOT NULL DEFAULT '',
		occurrence_count  INT NOT NULL DEFAULT 1,
		first_seen        TIMESTAMPTZ NOT NULL,
		last_seen         TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (name, source)
	)`,
}

const upsertObservation = `INSERT INTO observations (
	source_record_id, variable_code, source, location_id, location_name, admin_level,
	original_location, value, unit, period_kind, start_date, end_date, text, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (source_record_id, variable_code) DO UPDATE SET
	source=EXCLUDED.source, location_id=EXCLUDED.location_id, location_name=EXCLUDED.location_name,
	admin_level=EXCLUDED.admin_level, original_location=EXCLUDED.original_location,
	value=EXCLUDED.value, unit=EXCLUDED.unit, period_kind=EXCLUDED.period_kind,
	start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date, text=EXCLUDED.text,
	processed_at=EXCLUDED.processed_at`

const upsertUnmatched = `INSERT INTO unmatched_locations (
	name, source, code, admin_level_guess, context, occurrence_count, first_seen, last_seen
) VALUES ($1,$2,$3,$4,$5,1,$6,$6)
ON CONFLICT (name, source) DO UPDATE SET
	occurrence_count=unmatched_locations.occurrence_count+1,
	last_seen=EXCLUDED.last_seen,
	code=COALESCE(NULLIF(unmatched_locations.code, ''), EXCLUDED.code),
	context=COALESCE(NULLIF(unmatched_locations.context, ''), EXCLUDED.context)`

// Store is a PostgreSQL observation store and unmatched-location recorder.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping postgres: %w", err), db.Close())
	}
	return New(db, clock), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert writes obs in a single transaction. Re-running with the same keys
// updates rows in place.
func (s *Store) Upsert(ctx context.Context, obs []domain.Observation) (n int, err error) {
	if len(obs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertObservation)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx,
			o.SourceRecordID, o.VariableCode, o.Source,
			o.Location.ID, o.Location.Name, int(o.Location.AdminLevel),
			o.OriginalLocation, o.Value, o.Unit, string(o.Period),
			o.StartDate, o.EndDate, o.Text, o.ProcessedAt,
		); err != nil {
			return 0, fmt.Errorf("upsert %s/%s: %w", o.VariableCode, o.SourceRecordID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(obs), nil
}

// LatestEndDate returns the newest stored end date for (source, variable).
func (s *Store) LatestEndDate(ctx context.Context, source, variable string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(end_date) FROM observations WHERE source=$1 AND variable_code=$2`,
		source, variable,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest end date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return domain.Day(latest.Time), true, nil
}

// Count returns the number of stored observations for source, or all when
// source is empty.
func (s *Store) Count(ctx context.Context, source string) (int, error) {
	var n int
	q := `SELECT COUNT(*) FROM observations WHERE ($1 = '' OR source = $1)`
	if err := s.db.QueryRowContext(ctx, q, source).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// Record upserts an unmatched sighting, incrementing its occurrence count.
func (s *Store) Record(ctx context.Context, sg unmatched.Sighting) error {
	sg.Name = strings.TrimSpace(sg.Name)
	if sg.Name == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, upsertUnmatched,
		sg.Name, sg.Source, sg.Code,
		int(unmatched.GuessAdminLevel(sg.Name, sg.Hint)),
		unmatched.TruncateContext(sg.Context),
		s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record unmatched %q: %w", sg.Name, err)
	}
	return nil
}

// Summary lists unmatched locations last seen at or after since, most frequent first.
func (s *Store) Summary(ctx context.Context, since time.Time, limit int) ([]unmatched.Location, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, source, code, admin_level_guess, context,
		occurrence_count, first_seen, last_seen
		FROM unmatched_locations WHERE last_seen >= $1
		ORDER BY occurrence_count DESC, last_seen DESC, name
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query unmatched: %w", err)
	}
	defer rows.Close()

	var out []unmatched.Location
	for rows.Next() {
		var l unmatched.Location
		var level int
		if err := rows.Scan(&l.Name, &l.Source, &l.Code, &level, &l.Context,
			&l.Occurrences, &l.FirstSeen, &l.LastSeen); err != nil {
			return nil, fmt.Errorf("scan unmatched: %w", err)
		}
		l.AdminLevelGuess = domain.AdminLevel(level)
		out = append(out, l)
	}
	return out, rows.Err()
}
