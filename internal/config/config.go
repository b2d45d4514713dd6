// Package config handles TOML configuration loading with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/setevik/logsentinel/internal/cluster"
	"github.com/setevik/logsentinel/internal/embedder"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/ingest"
)

// ErrInvalid is returned by Validate for unusable tunables.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration for logsentinel.
type Config struct {
	Instance    InstanceConfig    `toml:"instance"`
	Data        DataConfig        `toml:"data"`
	Sources     []SourceConfig    `toml:"sources"`
	Embedder    EmbedderConfig    `toml:"embedder"`
	Cluster     ClusterConfig     `toml:"cluster"`
	Classifier  ClassifierConfig  `toml:"classifier"`
	Incident    IncidentConfig    `toml:"incident"`
	Suppression SuppressionConfig `toml:"suppression"`
	Server      ServerConfig      `toml:"server"`
	Watch       WatchConfig       `toml:"watch"`
	Ntfy        NtfyConfig        `toml:"ntfy"`
	DB          DBConfig          `toml:"db"`
	Log         LogConfig         `toml:"log"`
}

// InstanceConfig identifies this deployment in notifications.
type InstanceConfig struct {
	ID string `toml:"id"`
}

// DataConfig locates the database and the model artifact.
type DataConfig struct {
	Dir       string `toml:"dir"`
	DBPath    string `toml:"db_path"`    // default <dir>/logsentinel.db
	ModelPath string `toml:"model_path"` // default <dir>/model.json.zst
}

// SourceConfig is one historical input file used for training.
type SourceConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"`
	Source string `toml:"source"`
}

// EmbedderConfig controls the TF-IDF vocabulary.
type EmbedderConfig struct {
	MinDF       int     `toml:"min_df"`
	MaxDF       float64 `toml:"max_df"`
	MaxFeatures int     `toml:"max_features"`
	NGramMax    int     `toml:"ngram_max"`
}

// ClusterConfig controls DBSCAN.
type ClusterConfig struct {
	Eps        float64 `toml:"eps"`
	MinSamples int     `toml:"min_samples"`
	Scale      bool    `toml:"scale"`
	Workers    int     `toml:"workers"`
}

// ClassifierConfig controls online classification.
type ClassifierConfig struct {
	Threshold float64 `toml:"threshold"`
	CacheSize int     `toml:"cache_size"`
}

// IncidentConfig controls windowing of anomalies.
type IncidentConfig struct {
	Window          Duration `toml:"window"`
	MinEvents       int      `toml:"min_events"`
	SampleSize      int      `toml:"sample_size"`
	RefreshInterval Duration `toml:"refresh_interval"`
	Lookback        Duration `toml:"lookback"`
}

// SuppressionConfig controls the suppression filter.
type SuppressionConfig struct {
	Floor                 int      `toml:"floor"`
	MaintenanceComponents []string `toml:"maintenance_components"`
	BenignKeywords        []string `toml:"benign_keywords"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimit      float64  `toml:"rate_limit"` // ingested events per second
	RateBurst      int      `toml:"rate_burst"`
}

// WatchConfig controls live file tailing.
type WatchConfig struct {
	Enabled     bool     `toml:"enabled"`
	Dir         string   `toml:"dir"`
	Pattern     string   `toml:"pattern"`
	FromStart   bool     `toml:"from_start"`
	RestartWait Duration `toml:"restart_wait"`
}

// NtfyConfig controls the ntfy notification target.
type NtfyConfig struct {
	URL             string            `toml:"url"`
	PriorityMap     map[string]string `toml:"priority_map"`
	AlertSeverities []string          `toml:"alert_severities"`
}

// DBConfig controls retention.
type DBConfig struct {
	Retention Duration `toml:"retention"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"` // empty logs to stderr
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Duration wraps time.Duration for TOML string parsing (e.g. "5m", "1h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	ep := embedder.DefaultParams()
	cp := cluster.DefaultParams()
	ap := incident.DefaultAggregateParams()
	sp := incident.DefaultSuppressor()
	dataDir := defaultDataDir()

	return &Config{
		Instance: InstanceConfig{ID: hostname},
		Data:     DataConfig{Dir: dataDir},
		Sources: []SourceConfig{
			{Path: "data/raw/loghub/apache/apache_structured.csv", Format: "apache"},
			{Path: "data/raw/loghub/hdfs/hdfs_structured.csv", Format: "hdfs"},
		},
		Embedder: EmbedderConfig{
			MinDF:       ep.MinDF,
			MaxDF:       ep.MaxDF,
			MaxFeatures: ep.MaxFeatures,
			NGramMax:    ep.NGramMax,
		},
		Cluster: ClusterConfig{
			Eps:        cp.Eps,
			MinSamples: cp.MinSamples,
			Scale:      true,
		},
		Classifier: ClassifierConfig{
			Threshold: 0.35,
			CacheSize: 4096,
		},
		Incident: IncidentConfig{
			Window:          Duration{ap.Window},
			MinEvents:       ap.MinEvents,
			SampleSize:      ap.SampleSize,
			RefreshInterval: Duration{time.Minute},
			Lookback:        Duration{24 * time.Hour},
		},
		Suppression: SuppressionConfig{
			Floor:                 sp.Floor,
			MaintenanceComponents: sp.MaintenanceComponents,
			BenignKeywords:        sp.BenignKeywords,
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8000",
			AllowedOrigins: []string{"http://localhost:8501"},
			RateLimit:      200,
			RateBurst:      400,
		},
		Watch: WatchConfig{
			Dir:         filepath.Join(dataDir, "live_logs"),
			Pattern:     "*.log",
			RestartWait: Duration{5 * time.Second},
		},
		Ntfy: NtfyConfig{
			PriorityMap: map[string]string{
				"HIGH":   "urgent",
				"MEDIUM": "high",
				"LOW":    "default",
			},
			AlertSeverities: []string{"HIGH", "MEDIUM"},
		},
		DB: DBConfig{
			Retention: Duration{30 * 24 * time.Hour},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func defaultDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "logsentinel")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "logsentinel")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "logsentinel", "config.toml")
}

// Load reads configuration from the given path, falling back to defaults
// for any unset fields. If the file does not exist, returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	if c.Data.DBPath != "" {
		return c.Data.DBPath
	}
	return filepath.Join(c.Data.Dir, "logsentinel.db")
}

// ModelPath returns the model artifact path.
func (c *Config) ModelPath() string {
	if c.Data.ModelPath != "" {
		return c.Data.ModelPath
	}
	return filepath.Join(c.Data.Dir, "model.json.zst")
}

// EmbedderParams converts the [embedder] section.
func (c *Config) EmbedderParams() embedder.Params {
	return embedder.Params{
		MinDF:       c.Embedder.MinDF,
		MaxDF:       c.Embedder.MaxDF,
		MaxFeatures: c.Embedder.MaxFeatures,
		NGramMax:    c.Embedder.NGramMax,
	}
}

// ClusterParams converts the [cluster] section.
func (c *Config) ClusterParams() cluster.Params {
	return cluster.Params{
		Eps:        c.Cluster.Eps,
		MinSamples: c.Cluster.MinSamples,
		Workers:    c.Cluster.Workers,
	}
}

// AggregateParams converts the [incident] section.
func (c *Config) AggregateParams() incident.AggregateParams {
	return incident.AggregateParams{
		Window:     c.Incident.Window.Duration,
		MinEvents:  c.Incident.MinEvents,
		SampleSize: c.Incident.SampleSize,
	}
}

// Suppressor converts the [suppression] section.
func (c *Config) Suppressor() *incident.Suppressor {
	return &incident.Suppressor{
		Floor:                 c.Suppression.Floor,
		MaintenanceComponents: c.Suppression.MaintenanceComponents,
		BenignKeywords:        c.Suppression.BenignKeywords,
	}
}

// IngestSpecs converts the [[sources]] entries.
func (c *Config) IngestSpecs() ([]ingest.Spec, error) {
	specs := make([]ingest.Spec, 0, len(c.Sources))
	for i, s := range c.Sources {
		f, err := ingest.ParseFormat(s.Format)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		specs = append(specs, ingest.Spec{Path: s.Path, Format: f, Source: s.Source})
	}
	return specs, nil
}

// ShouldAlert returns true if the given severity is in the configured alert
// severities.
func (c *Config) ShouldAlert(severity string) bool {
	for _, s := range c.Ntfy.AlertSeverities {
		if strings.EqualFold(s, severity) {
			return true
		}
	}
	return false
}

// NtfyPriority maps a severity to an ntfy priority string.
func (c *Config) NtfyPriority(severity string) string {
	for k, p := range c.Ntfy.PriorityMap {
		if strings.EqualFold(k, severity) {
			return p
		}
	}
	return "default"
}

// Validate rejects tunables no pipeline can run with. All problems are
// reported at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := c.EmbedderParams().Validate(); err != nil {
		add("embedder: %w", err)
	}
	if err := c.ClusterParams().Validate(); err != nil {
		add("cluster: %w", err)
	}
	if t := c.Classifier.Threshold; t <= 0 || t > 2 {
		add("classifier.threshold must be in (0, 2], got %g", t)
	}
	if c.Classifier.CacheSize < 0 {
		add("classifier.cache_size must be >= 0, got %d", c.Classifier.CacheSize)
	}
	if c.Incident.Window.Duration <= 0 {
		add("incident.window must be positive, got %v", c.Incident.Window.Duration)
	}
	if c.Incident.MinEvents < 1 {
		add("incident.min_events must be >= 1, got %d", c.Incident.MinEvents)
	}
	if c.Incident.SampleSize < 1 {
		add("incident.sample_size must be >= 1, got %d", c.Incident.SampleSize)
	}
	if c.Incident.RefreshInterval.Duration <= 0 {
		add("incident.refresh_interval must be positive")
	}
	if c.Incident.Lookback.Duration <= 0 {
		add("incident.lookback must be positive")
	}
	if c.Suppression.Floor < 0 {
		add("suppression.floor must be >= 0, got %d", c.Suppression.Floor)
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		add("server.rate_limit must be positive and server.rate_burst >= 1")
	}
	if _, err := c.IngestSpecs(); err != nil {
		add("%w", err)
	}
	for i, s := range c.Sources {
		if s.Path == "" {
			add("sources[%d]: path is required", i)
		}
	}
	for _, s := range c.Ntfy.AlertSeverities {
		if _, ok := incident.ParseSeverity(s); !ok {
			add("ntfy.alert_severities: unknown severity %q", s)
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	if c.DB.Retention.Duration < 0 {
		add("db.retention must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", level)
	}
}

// Warnings returns non-fatal remarks about the configuration.
func (c *Config) Warnings() []string {
	var w []string
	if c.Suppression.Floor > c.Incident.MinEvents {
		w = append(w, fmt.Sprintf(
			"suppression.floor (%d) exceeds incident.min_events (%d): incidents with fewer than %d events are always suppressed",
			c.Suppression.Floor, c.Incident.MinEvents, c.Suppression.Floor))
	}
	if c.Watch.Enabled && c.Watch.Dir == "" {
		w = append(w, "watch.enabled is set but watch.dir is empty")
	}
	return w
}
