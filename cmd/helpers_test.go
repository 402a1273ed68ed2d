//go:build !integration

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/kpi-atlas/internal/config"
	"github.com/sells-group/kpi-atlas/internal/snapshot"
)

// testConfig returns a valid sqlite configuration for 2019-2020.
func testConfig(sqlitePath string) *config.Config {
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = sqlitePath
	c.Store.Table = "gemeinden_merged"
	c.Cache.FromYear = 2019
	c.Cache.ToYear = 2020
	c.Preload.Concurrency = 1
	c.Adjacency.Tolerance = 1e-9
	c.Cluster.K = 3
	c.Cluster.Iterations = 5
	c.Server.Port = 3000
	return c
}

// seedSQLite writes two years of five unit squares in a row. Entity i has
// x = i in 2020 and x = 6-i in 2019; y is always 2x.
func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atlas.db")
	store, err := snapshot.NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	var recs []snapshot.Record
	for _, year := range []int{2019, 2020} {
		for i := 1; i <= 5; i++ {
			x := float64(i)
			if year == 2019 {
				x = float64(6 - i)
			}
			fx := float64(i - 1)
			recs = append(recs, snapshot.Record{
				ID:   strconv.Itoa(i),
				Name: "E" + strconv.Itoa(i),
				Year: year,
				Geometry: geom.NewPolygonFlat(geom.XY,
					[]float64{fx, 0, fx + 1, 0, fx + 1, 1, fx, 1, fx, 0}, []int{10}),
				Properties: map[string]any{"x": x, "y": 2 * x},
			})
		}
	}
	_, err = store.PutRecords(ctx, recs)
	require.NoError(t, err)
	return path
}

// useConfig installs c as the command config for the duration of the test.
func useConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

// execute runs the RunE of c directly and returns what it printed.
func execute(t *testing.T, c *cobra.Command) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetContext(context.Background())
	t.Cleanup(func() { c.SetOut(nil) })
	err := c.RunE(c, nil)
	return out.String(), err
}
