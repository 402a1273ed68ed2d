package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/snapshot"
)

var (
	importShapefile string
	importDB        string
	importYear      int
	importIDField   string
	importNameField string
	importYearField string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a boundary shapefile into the SQLite snapshot database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if importDB != "" {
			cfg.Store.SQLitePath = importDB
		}
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		if importYear == 0 && importYearField == "" {
			return eris.New("--year or --year-field is required")
		}

		records, err := snapshot.ReadShapefile(importShapefile, snapshot.ShapefileOptions{
			IDField:   importIDField,
			NameField: importNameField,
			YearField: importYearField,
			Year:      importYear,
		})
		if err != nil {
			return eris.Wrap(err, "import shapefile")
		}

		store, err := snapshot.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.Migrate(ctx); err != nil {
			return err
		}
		written, err := store.PutRecords(ctx, records)
		if err != nil {
			return eris.Wrap(err, "import records")
		}

		zap.L().Info("import complete",
			zap.Int("records", written),
			zap.String("shapefile", importShapefile),
			zap.String("db", cfg.Store.SQLitePath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importShapefile, "shapefile", "", "path to .shp file (required)")
	importCmd.Flags().StringVar(&importDB, "db", "", "SQLite database (default store.sqlite_path)")
	importCmd.Flags().IntVar(&importYear, "year", 0, "year of every record")
	importCmd.Flags().StringVar(&importIDField, "id-field", snapshot.DefaultColumns.ID, "DBF column holding the entity id")
	importCmd.Flags().StringVar(&importNameField, "name-field", snapshot.DefaultColumns.Name, "DBF column holding the entity name")
	importCmd.Flags().StringVar(&importYearField, "year-field", "", "DBF column holding the year")
	_ = importCmd.MarkFlagRequired("shapefile")
	rootCmd.AddCommand(importCmd)
}
