package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	KPI       KPIConfig       `yaml:"kpi" mapstructure:"kpi"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Preload   PreloadConfig   `yaml:"preload" mapstructure:"preload"`
	Adjacency AdjacencyConfig `yaml:"adjacency" mapstructure:"adjacency"`
	Cluster   ClusterConfig   `yaml:"cluster" mapstructure:"cluster"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the snapshot backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Table       string        `yaml:"table" mapstructure:"table"`
	ScoreTable  string        `yaml:"score_table" mapstructure:"score_table"`
	Columns     ColumnsConfig `yaml:"columns" mapstructure:"columns"`
	MaxConns    int32         `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32         `yaml:"min_conns" mapstructure:"min_conns"`
}

// ColumnsConfig names the identifier columns of the snapshot table.
type ColumnsConfig struct {
	ID       string `yaml:"id" mapstructure:"id"`
	Name     string `yaml:"name" mapstructure:"name"`
	Year     string `yaml:"year" mapstructure:"year"`
	Geometry string `yaml:"geometry" mapstructure:"geometry"`
}

// KPIConfig controls attribute normalisation.
type KPIConfig struct {
	IdentifierFields []string `yaml:"identifier_fields" mapstructure:"identifier_fields"`
	DropFields       []string `yaml:"drop_fields" mapstructure:"drop_fields"`
}

// CacheConfig bounds the years held in memory.
type CacheConfig struct {
	FromYear     int           `yaml:"from_year" mapstructure:"from_year"`
	ToYear       int           `yaml:"to_year" mapstructure:"to_year"`
	AdjacencyTTL time.Duration `yaml:"adjacency_ttl" mapstructure:"adjacency_ttl"`
}

// PreloadConfig paces the startup fetch of every year.
type PreloadConfig struct {
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	QueriesPerSecond float64 `yaml:"queries_per_second" mapstructure:"queries_per_second"`
}

// AdjacencyConfig tunes the touches predicate.
type AdjacencyConfig struct {
	Tolerance float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// ClusterConfig sets the k-means parameters and optional presets file.
type ClusterConfig struct {
	K           int    `yaml:"k" mapstructure:"k"`
	Iterations  int    `yaml:"iterations" mapstructure:"iterations"`
	PresetsFile string `yaml:"presets_file" mapstructure:"presets_file"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional config.yaml in the working directory; an
// explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("KPIATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "kpi-atlas.db")
	v.SetDefault("store.table", "gemeinden_merged")
	v.SetDefault("store.columns.id", "BFS")
	v.SetDefault("store.columns.name", "GEBIET_NAME")
	v.SetDefault("store.columns.year", "Year")
	v.SetDefault("store.columns.geometry", "geom")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("kpi.identifier_fields", []string{"BFS", "BFS_NR", "GEBIET_NAME", "Year", "id", "year"})
	v.SetDefault("kpi.drop_fields", []string{"geom", "geometry", "ARPS", "ART_CODE", "SHAPE_AREA", "SHAPE_LEN"})
	v.SetDefault("cache.from_year", 1990)
	v.SetDefault("cache.to_year", 2023)
	v.SetDefault("cache.adjacency_ttl", "0s")
	v.SetDefault("preload.concurrency", 1)
	v.SetDefault("preload.queries_per_second", 0)
	v.SetDefault("adjacency.tolerance", 1e-9)
	v.SetDefault("cluster.k", 3)
	v.SetDefault("cluster.iterations", 5)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "serve", "analyze", "import" and "export".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "analyze", "export":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateAnalysis()...)
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "import":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Store.Table == "" {
			errs = append(errs, "store.table is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateAnalysis() []string {
	var errs []string
	if c.Cache.FromYear > c.Cache.ToYear {
		errs = append(errs, "cache.from_year must be <= cache.to_year")
	}
	if c.Preload.Concurrency < 1 || c.Preload.Concurrency > 16 {
		errs = append(errs, "preload.concurrency must be between 1 and 16")
	}
	if c.Preload.QueriesPerSecond < 0 {
		errs = append(errs, "preload.queries_per_second must be >= 0")
	}
	if c.Adjacency.Tolerance < 0 {
		errs = append(errs, "adjacency.tolerance must be >= 0")
	}
	if c.Cluster.K < 1 {
		errs = append(errs, "cluster.k must be >= 1")
	}
	if c.Cluster.Iterations < 1 {
		errs = append(errs, "cluster.iterations must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
