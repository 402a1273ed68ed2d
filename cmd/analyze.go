package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis and print the result as JSON",
}

var (
	analyzeFrom     int
	analyzeTo       int
	analyzeYear     int
	analyzeFeatures string
	analyzePreset   string
	analyzeKPI      string
	analyzeEntities string
	analyzeGlobal   bool
	analyzePersist  bool
	analyzeX        string
	analyzeY        string
	analyzeOutliers int
)

// withAtlas validates config, builds an atlas env over from..to, preloads
// it and hands it to fn.
func withAtlas(ctx context.Context, from, to int, fn func(*atlasEnv) error) error {
	if err := cfg.Validate("analyze"); err != nil {
		return err
	}
	from, to = rangeOr(from, to)
	env, err := initAtlas(ctx, from, to)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Cache.Preload(ctx); err != nil {
		return eris.Wrap(err, "preload snapshots")
	}
	return fn(env)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode result")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var analyzeCorrelateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Rank attribute pairs by Pearson correlation over a year range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAtlas(cmd.Context(), analyzeFrom, analyzeTo, func(env *atlasEnv) error {
			from, to := rangeOr(analyzeFrom, analyzeTo)
			cs, err := env.Svc.Correlations(from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cs)
		})
	},
}

var analyzeClusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster the entities of one year by k-means",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if analyzePreset == "" && analyzeFeatures == "" {
			return eris.New("--features or --preset is required")
		}
		return withAtlas(cmd.Context(), analyzeYear, analyzeYear, func(env *atlasEnv) error {
			var (
				rows any
				err  error
			)
			if analyzePreset != "" {
				rows, err = env.Svc.ClusterPreset(analyzeYear, analyzePreset)
			} else {
				rows, err = env.Svc.Cluster(analyzeYear, splitList(analyzeFeatures))
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		})
	},
}

var analyzeMoranCmd = &cobra.Command{
	Use:   "moran",
	Short: "Compute Moran's I of one attribute",
	Long:  "Prints neighbourhood scores for --year, or the global statistic per year with --global. --persist writes the neighbourhood scores of every entity to the score store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if analyzeKPI == "" {
			return eris.New("--kpi is required")
		}
		if analyzeGlobal {
			return withAtlas(cmd.Context(), analyzeFrom, analyzeTo, func(env *atlasEnv) error {
				from, to := rangeOr(analyzeFrom, analyzeTo)
				rows, err := env.Svc.GlobalMoran(analyzeKPI, from, to)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		}
		if analyzeYear == 0 {
			return eris.New("--year is required without --global")
		}
		return withAtlas(cmd.Context(), analyzeYear, analyzeYear, func(env *atlasEnv) error {
			if analyzePersist {
				if !storedScores() {
					return eris.New("--persist needs a score store (sqlite driver or store.score_table)")
				}
				n, err := env.Svc.PersistMoranScores(cmd.Context(), analyzeYear, analyzeKPI, env.Store)
				if err != nil {
					return err
				}
				zap.L().Info("analyze: scores written", zap.Int64("rows", n))
				return printJSON(cmd.OutOrStdout(), map[string]any{"year": analyzeYear, "kpi": analyzeKPI, "rows": n})
			}
			scores, err := env.Svc.MoranScores(cmd.Context(), analyzeYear, analyzeKPI, splitList(analyzeEntities))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), scores)
		})
	},
}

var analyzeDeviationCmd = &cobra.Command{
	Use:   "deviation",
	Short: "Fit y on x for one year and print residuals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if analyzeX == "" || analyzeY == "" {
			return eris.New("--x and --y are required")
		}
		return withAtlas(cmd.Context(), analyzeYear, analyzeYear, func(env *atlasEnv) error {
			if analyzeOutliers > 0 {
				devs, err := env.Svc.Outliers(analyzeYear, analyzeX, analyzeY, analyzeOutliers)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), devs)
			}
			fit, devs, err := env.Svc.Deviations(analyzeYear, analyzeX, analyzeY)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"fit": fit, "deviations": devs})
		})
	},
}

// rangeOr replaces zero years with the configured cache bounds.
func rangeOr(from, to int) (int, int) {
	if from == 0 {
		from = cfg.Cache.FromYear
	}
	if to == 0 {
		to = cfg.Cache.ToYear
	}
	return from, to
}

func init() {
	analyzeCorrelateCmd.Flags().IntVar(&analyzeFrom, "from", 0, "first year (default cache.from_year)")
	analyzeCorrelateCmd.Flags().IntVar(&analyzeTo, "to", 0, "last year (default cache.to_year)")

	analyzeClusterCmd.Flags().IntVar(&analyzeYear, "year", 0, "year to cluster (required)")
	analyzeClusterCmd.Flags().StringVar(&analyzeFeatures, "features", "", "2 or 3 comma separated attributes")
	analyzeClusterCmd.Flags().StringVar(&analyzePreset, "preset", "", "named feature preset")
	_ = analyzeClusterCmd.MarkFlagRequired("year")

	analyzeMoranCmd.Flags().IntVar(&analyzeYear, "year", 0, "year for neighbourhood scores")
	analyzeMoranCmd.Flags().StringVar(&analyzeKPI, "kpi", "", "attribute (required)")
	analyzeMoranCmd.Flags().StringVar(&analyzeEntities, "entities", "", "comma separated entity ids (default all)")
	analyzeMoranCmd.Flags().BoolVar(&analyzeGlobal, "global", false, "global Moran's I per year over --from..--to")
	analyzeMoranCmd.Flags().IntVar(&analyzeFrom, "from", 0, "first year for --global")
	analyzeMoranCmd.Flags().IntVar(&analyzeTo, "to", 0, "last year for --global")
	analyzeMoranCmd.Flags().BoolVar(&analyzePersist, "persist", false, "write scores of every entity to the score store")
	analyzeMoranCmd.MarkFlagsMutuallyExclusive("global", "persist")

	analyzeDeviationCmd.Flags().IntVar(&analyzeYear, "year", 0, "year to fit (required)")
	analyzeDeviationCmd.Flags().StringVar(&analyzeX, "x", "", "explanatory attribute")
	analyzeDeviationCmd.Flags().StringVar(&analyzeY, "y", "", "response attribute")
	analyzeDeviationCmd.Flags().IntVar(&analyzeOutliers, "outliers", 0, "print only the N largest deviations")
	_ = analyzeDeviationCmd.MarkFlagRequired("year")

	analyzeCmd.AddCommand(analyzeCorrelateCmd, analyzeClusterCmd, analyzeMoranCmd, analyzeDeviationCmd)
	rootCmd.AddCommand(analyzeCmd)
}
