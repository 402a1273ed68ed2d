package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// SQLiteStore keeps snapshots in a single-file SQLite database: properties
// as a JSON object and geometry as WKB. It is the target of shapefile
// imports and works offline.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	pragmas := []string{"PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"}
	if dsn != ":memory:" {
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...)
	} else {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	year       INTEGER NOT NULL,
	entity_id  TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	properties TEXT NOT NULL DEFAULT '{}',
	geometry   BLOB,
	PRIMARY KEY (year, entity_id)
);

CREATE TABLE IF NOT EXISTS moran_scores (
	year      INTEGER NOT NULL,
	attribute TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	score     REAL,
	PRIMARY KEY (year, attribute, entity_id)
);
`

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutRecords inserts or replaces records in one transaction and returns the
// number written.
func (s *SQLiteStore) PutRecords(ctx context.Context, records []Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entities (year, entity_id, name, properties, geometry)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	for _, r := range records {
		props, err := json.Marshal(r.Properties)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode properties of %s", r.ID)
		}
		var shape []byte
		if r.Geometry != nil {
			if shape, err = wkb.Marshal(r.Geometry, wkb.NDR); err != nil {
				return 0, eris.Wrapf(err, "sqlite: encode geometry of %s", r.ID)
			}
		}
		if _, err := stmt.ExecContext(ctx, r.Year, r.ID, r.Name, string(props), shape); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert %d/%s", r.Year, r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return len(records), nil
}

// LoadYear implements Store.
func (s *SQLiteStore) LoadYear(ctx context.Context, year int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, name, year, properties, geometry
		FROM entities WHERE year = ? ORDER BY entity_id`, year)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query year %d", year)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r     Record
			props string
			shape []byte
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Year, &props, &shape); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan year %d", year)
		}
		if r.Properties, err = decodeProperties([]byte(props)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: entity %s", r.ID)
		}
		if len(shape) > 0 {
			if r.Geometry, err = wkb.Unmarshal(shape); err != nil {
				return nil, eris.Wrapf(err, "sqlite: decode geometry of %s", r.ID)
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entities")
}

// Years implements Store.
func (s *SQLiteStore) Years(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT year FROM entities ORDER BY year`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list years")
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan year")
		}
		years = append(years, y)
	}
	return years, eris.Wrap(rows.Err(), "sqlite: iterate years")
}

// Scores implements ScoreReader.
func (s *SQLiteStore) Scores(ctx context.Context, year int, attr string, ids []string) ([]analytics.MoranScore, error) {
	query := `SELECT entity_id, score FROM moran_scores WHERE year = ? AND attribute = ?`
	args := []any{year, attr}
	if len(ids) > 0 {
		query += " AND entity_id IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += " ORDER BY entity_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query scores %d/%s", year, attr)
	}
	defer rows.Close()

	out := []analytics.MoranScore{}
	for rows.Next() {
		var (
			id    string
			score sql.NullFloat64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		v := kpi.Null
		if score.Valid {
			v = kpi.Num(score.Float64)
		}
		out = append(out, analytics.MoranScore{EntityID: id, MoranI: v})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate scores")
}

// WriteScores implements ScoreWriter.
func (s *SQLiteStore) WriteScores(ctx context.Context, year int, attr string, scores []analytics.MoranScore) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range scoreRows(year, attr, scores) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO moran_scores (year, attribute, entity_id, score) VALUES (?, ?, ?, ?)
			ON CONFLICT (year, attribute, entity_id) DO UPDATE SET score = excluded.score`, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert score %d/%s", year, attr)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return int64(len(scores)), nil
}
