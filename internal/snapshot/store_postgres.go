package snapshot

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/db"
	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// PostgresStore reads snapshots from a PostGIS table holding one row per
// entity-year with KPI columns side by side.
type PostgresStore struct {
	pool       db.Pool
	table      string
	scoreTable string
	cols       Columns
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithScoreTable enables ScoreReader and ScoreWriter on table. The table
// needs the columns (year, attribute, entity_id, score) and a unique
// constraint on the first three.
func WithScoreTable(table string) PostgresOption {
	return func(s *PostgresStore) { s.scoreTable = table }
}

// WithColumns overrides the identifier column names.
func WithColumns(cols Columns) PostgresOption {
	return func(s *PostgresStore) { s.cols = cols.withDefaults() }
}

// NewPostgresStore creates a PostgresStore over table.
func NewPostgresStore(pool db.Pool, table string, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, table: table, cols: DefaultColumns}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *PostgresStore) yearQuery() string {
	return fmt.Sprintf(`
		SELECT t.%[1]s::text, COALESCE(t.%[2]s::text, ''), t.%[3]s::int,
		       to_jsonb(t) - $2::text, ST_AsBinary(t.%[4]s)
		FROM %[5]s t
		WHERE t.%[3]s = $1
		ORDER BY t.%[1]s`,
		db.QuoteIdent(s.cols.ID),
		db.QuoteIdent(s.cols.Name),
		db.QuoteIdent(s.cols.Year),
		db.QuoteIdent(s.cols.Geometry),
		db.QuoteTable(s.table),
	)
}

// LoadYear implements Store.
func (s *PostgresStore) LoadYear(ctx context.Context, year int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, s.yearQuery(), year, s.cols.Geometry)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: query year %d", year)
	}
	defer rows.Close()

	var out []Record
	var badGeom int
	for rows.Next() {
		var (
			r     Record
			props []byte
			shape []byte
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Year, &props, &shape); err != nil {
			return nil, eris.Wrapf(err, "snapshot: scan year %d", year)
		}
		if r.Properties, err = decodeProperties(props); err != nil {
			return nil, eris.Wrapf(err, "snapshot: entity %s", r.ID)
		}
		if len(shape) > 0 {
			g, err := wkb.Unmarshal(shape)
			if err != nil {
				badGeom++
			} else {
				r.Geometry = g
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "snapshot: iterate year %d", year)
	}
	if badGeom > 0 {
		zap.L().Warn("snapshot: undecodable geometries",
			zap.Int("year", year),
			zap.Int("count", badGeom),
		)
	}
	return out, nil
}

// Years implements Store.
func (s *PostgresStore) Years(ctx context.Context) ([]int, error) {
	sql := fmt.Sprintf("SELECT DISTINCT t.%[1]s::int FROM %[2]s t ORDER BY 1",
		db.QuoteIdent(s.cols.Year), db.QuoteTable(s.table))
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: list years")
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan year")
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// Scores implements ScoreReader.
func (s *PostgresStore) Scores(ctx context.Context, year int, attr string, ids []string) ([]analytics.MoranScore, error) {
	if s.scoreTable == "" {
		return nil, eris.New("snapshot: no score table configured")
	}
	sql := fmt.Sprintf(`
		SELECT entity_id::text, COALESCE(score, 'NaN'::float8)
		FROM %s
		WHERE year = $1 AND attribute = $2`, db.QuoteTable(s.scoreTable))
	args := []any{year, attr}
	if len(ids) > 0 {
		sql += " AND entity_id::text = ANY($3)"
		args = append(args, ids)
	}
	sql += " ORDER BY entity_id"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: query scores %d/%s", year, attr)
	}
	defer rows.Close()

	out := []analytics.MoranScore{}
	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan score")
		}
		out = append(out, analytics.MoranScore{EntityID: id, MoranI: kpi.Num(score)})
	}
	return out, rows.Err()
}

// WriteScores implements ScoreWriter.
func (s *PostgresStore) WriteScores(ctx context.Context, year int, attr string, scores []analytics.MoranScore) (int64, error) {
	if s.scoreTable == "" {
		return 0, eris.New("snapshot: no score table configured")
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        s.scoreTable,
		Columns:      []string{"year", "attribute", "entity_id", "score"},
		ConflictKeys: []string{"year", "attribute", "entity_id"},
	}, scoreRows(year, attr, scores))
	return n, eris.Wrapf(err, "snapshot: write scores %d/%s", year, attr)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
