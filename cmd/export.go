package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/export"
)

var (
	exportOut      string
	exportFrom     int
	exportTo       int
	exportYear     int
	exportFeatures string
	exportPreset   string
	exportX        string
	exportY        string
	exportKPI      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write analysis results to an XLSX workbook",
	Long:  "Always writes the correlation sheet for --from..--to. Cluster, deviation and Moran sheets are added when --features/--preset, --x/--y and --kpi are given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		from, to := rangeOr(exportFrom, exportTo)
		if exportYear != 0 && (exportYear < from || exportYear > to) {
			return eris.Errorf("--year %d outside %d-%d", exportYear, from, to)
		}
		needsYear := exportFeatures != "" || exportPreset != "" || exportX != "" || exportY != ""
		if needsYear && exportYear == 0 {
			return eris.New("--year is required for cluster and deviation sheets")
		}

		ctx := cmd.Context()
		env, err := initAtlas(ctx, from, to)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.Cache.Preload(ctx); err != nil {
			return eris.Wrap(err, "preload snapshots")
		}

		wb := export.NewWorkbook()

		cs, err := env.Svc.Correlations(from, to)
		if err != nil {
			return err
		}
		if err := wb.AddCorrelations(cs); err != nil {
			return err
		}

		if exportFeatures != "" || exportPreset != "" {
			features := splitList(exportFeatures)
			if exportPreset != "" {
				p, ok := analytics.FindPreset(env.Svc.Presets(), exportPreset)
				if !ok {
					return eris.Errorf("unknown cluster preset %q", exportPreset)
				}
				features = p.Features
			}
			rows, err := env.Svc.Cluster(exportYear, features)
			if err != nil {
				return err
			}
			if err := wb.AddClusters(exportYear, features, rows); err != nil {
				return err
			}
		}

		if exportX != "" || exportY != "" {
			fit, devs, err := env.Svc.Deviations(exportYear, exportX, exportY)
			if err != nil {
				return err
			}
			if err := wb.AddDeviations(exportYear, exportX, exportY, fit, devs); err != nil {
				return err
			}
		}

		if exportKPI != "" {
			rows, err := env.Svc.GlobalMoran(exportKPI, from, to)
			if err != nil {
				return err
			}
			if err := wb.AddMoran(rows); err != nil {
				return err
			}
		}

		if err := wb.Save(exportOut); err != nil {
			return err
		}
		zap.L().Info("export complete",
			zap.String("path", exportOut),
			zap.Strings("sheets", wb.Sheets()),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "kpi-atlas.xlsx", "output workbook path")
	exportCmd.Flags().IntVar(&exportFrom, "from", 0, "first year (default cache.from_year)")
	exportCmd.Flags().IntVar(&exportTo, "to", 0, "last year (default cache.to_year)")
	exportCmd.Flags().IntVar(&exportYear, "year", 0, "year for the cluster and deviation sheets")
	exportCmd.Flags().StringVar(&exportFeatures, "features", "", "cluster features, comma separated")
	exportCmd.Flags().StringVar(&exportPreset, "preset", "", "cluster feature preset")
	exportCmd.Flags().StringVar(&exportX, "x", "", "deviation explanatory attribute")
	exportCmd.Flags().StringVar(&exportY, "y", "", "deviation response attribute")
	exportCmd.Flags().StringVar(&exportKPI, "kpi", "", "attribute for the Moran sheet")
	exportCmd.MarkFlagsMutuallyExclusive("features", "preset")
	rootCmd.AddCommand(exportCmd)
}
