package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/ritzau/nma-engine/pkg/consistency"
	"github.com/ritzau/nma-engine/pkg/geometry"
	"github.com/ritzau/nma-engine/pkg/logging"
	"github.com/ritzau/nma-engine/pkg/ranking"
	"github.com/ritzau/nma-engine/pkg/stattest"
	"github.com/spf13/pflag"
)

const (
	// DefaultFile is read from the working directory when present
	DefaultFile = "nma.toml"
	envPrefix   = "NMA_"
)

// Config holds all configuration for the application
type Config struct {
	Input       string            `koanf:"input"`
	Format      string            `koanf:"format"`
	Port        int               `koanf:"port"`
	Watch       bool              `koanf:"watch"`
	Verbosity   string            `koanf:"verbosity"`
	VerboseCnt  int               `koanf:"verbose"`
	Geometry    GeometryConfig    `koanf:"geometry"`
	Consistency ConsistencyConfig `koanf:"consistency"`
	Ranking     RankingConfig     `koanf:"ranking"`
}

type GeometryConfig struct {
	StarHubFraction  float64 `koanf:"star_hub_fraction"`
	GoodDensity      float64 `koanf:"good_density"`
	ExcellentDensity float64 `koanf:"excellent_density"`
}

type ConsistencyConfig struct {
	SevereAlpha   float64 `koanf:"severe_alpha"`
	ModerateAlpha float64 `koanf:"moderate_alpha"`
	MildAlpha     float64 `koanf:"mild_alpha"`
	GlobalAlpha   float64 `koanf:"global_alpha"`
	MinVariance   float64 `koanf:"min_variance"`
	// NodeSplit holds "A:B" pairs; entries may also be comma-separated lists
	NodeSplit []string `koanf:"node_split"`
}

type RankingConfig struct {
	Iterations        int     `koanf:"iterations"`
	Seed              uint64  `koanf:"seed"`
	HigherIsBetter    bool    `koanf:"higher_is_better"`
	UncertaintyMargin float64 `koanf:"uncertainty_margin"`
	Workers           int     `koanf:"workers"`
	Reference         string  `koanf:"reference"`
}

// flagKeys maps CLI flag names onto config keys
var flagKeys = map[string]string{
	"input":              "input",
	"format":             "format",
	"port":               "port",
	"watch":              "watch",
	"verbosity":          "verbosity",
	"verbose":            "verbose",
	"min-variance":       "consistency.min_variance",
	"node-split":         "consistency.node_split",
	"iterations":         "ranking.iterations",
	"seed":               "ranking.seed",
	"higher-is-better":   "ranking.higher_is_better",
	"uncertainty-margin": "ranking.uncertainty_margin",
	"workers":            "ranking.workers",
	"reference":          "ranking.reference",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"input":     "",
		"format":    "text",
		"port":      8080,
		"watch":     false,
		"verbosity": "",
		"verbose":   0,
		"geometry": map[string]interface{}{
			"star_hub_fraction": 0.8,
			"good_density":      0.3,
			"excellent_density": 0.5,
		},
		"consistency": map[string]interface{}{
			"severe_alpha":   0.01,
			"moderate_alpha": 0.05,
			"mild_alpha":     0.10,
			"global_alpha":   0.05,
			"min_variance":   stattest.DefaultMinVariance,
			"node_split":     []string{},
		},
		"ranking": map[string]interface{}{
			"iterations":         1000,
			"seed":               20240101,
			"higher_is_better":   false,
			"uncertainty_margin": 10.0,
			"workers":            1,
			"reference":          "",
		},
	}
}

// RegisterFlags defines the flags Load understands
func RegisterFlags(f *pflag.FlagSet) {
	f.StringP("input", "i", "", "dataset file (.json, .csv, .xlsx, .toml, .yaml)")
	f.String("format", "text", "output format: text or json")
	f.Int("port", 8080, "HTTP port for serve")
	f.Bool("watch", false, "re-run the analysis when the input file changes")
	f.String("verbosity", "", "log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "increase log verbosity (-v debug, -vv trace)")
	f.String("config", DefaultFile, "config file")
	f.Float64("min-variance", stattest.DefaultMinVariance, "variance below which an estimate is degenerate")
	f.StringSlice("node-split", nil, "edges to node-split as A:B (default: every edge with indirect evidence)")
	f.Int("iterations", 1000, "Monte Carlo ranking iterations")
	f.Uint64("seed", 20240101, "ranking random seed")
	f.Bool("higher-is-better", false, "rank larger effects as better")
	f.Float64("uncertainty-margin", 10, "SUCRA gap below which the top ranking is flagged uncertain")
	f.Int("workers", 1, "parallel ranking workers")
	f.String("reference", "", "reference treatment for pooling (default: first treatment)")
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional unless named explicitly)
	path, explicit := DefaultFile, false
	if f != nil {
		if fl := f.Lookup("config"); fl != nil {
			path, explicit = fl.Value.String(), fl.Changed
		}
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// 3. Environment Variables
	// Prefix: NMA_, "__" separates levels (e.g., NMA_RANKING__ITERATIONS=5000)
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, ".", k, func(fl *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[fl.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(f, fl)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no analyzer can run with
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "text" && c.Format != "json" {
		errs = append(errs, fmt.Errorf("format must be text or json, got %q", c.Format))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	cc := c.Consistency
	if !(0 < cc.SevereAlpha && cc.SevereAlpha <= cc.ModerateAlpha && cc.ModerateAlpha <= cc.MildAlpha && cc.MildAlpha < 1) {
		errs = append(errs, fmt.Errorf("consistency alphas must satisfy 0 < severe <= moderate <= mild < 1"))
	}
	if cc.GlobalAlpha <= 0 || cc.GlobalAlpha >= 1 {
		errs = append(errs, fmt.Errorf("consistency.global_alpha must be in (0, 1)"))
	}
	if cc.MinVariance < 0 {
		errs = append(errs, fmt.Errorf("consistency.min_variance must not be negative"))
	}
	if c.Ranking.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("ranking.iterations must be positive"))
	}
	if c.Ranking.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ranking.workers must be positive"))
	}
	if _, err := c.NodeSplitPairs(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LogLevel resolves verbosity, which wins over the -v count
func (c *Config) LogLevel() (slog.Level, error) {
	if c.Verbosity != "" {
		return logging.ParseLevel(c.Verbosity)
	}
	return logging.LevelFromVerbosity(c.VerboseCnt), nil
}

// NodeSplitPairs parses the configured "A:B" edges
func (c *Config) NodeSplitPairs() ([][2]string, error) {
	pairs := make([][2]string, 0)
	for _, entry := range c.Consistency.NodeSplit {
		for _, item := range strings.Split(entry, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			a, b, ok := strings.Cut(item, ":")
			a, b = strings.TrimSpace(a), strings.TrimSpace(b)
			if !ok || a == "" || b == "" {
				return nil, fmt.Errorf("node_split entry %q must look like A:B", item)
			}
			pairs = append(pairs, [2]string{a, b})
		}
	}
	return pairs, nil
}

func (c *Config) GeometryThresholds() geometry.Thresholds {
	return geometry.Thresholds{
		StarHubFraction:  c.Geometry.StarHubFraction,
		GoodDensity:      c.Geometry.GoodDensity,
		ExcellentDensity: c.Geometry.ExcellentDensity,
	}
}

func (c *Config) ConsistencyOptions() consistency.Options {
	pairs, _ := c.NodeSplitPairs()
	return consistency.Options{
		Alphas: stattest.Alphas{
			Severe:   c.Consistency.SevereAlpha,
			Moderate: c.Consistency.ModerateAlpha,
			Mild:     c.Consistency.MildAlpha,
		},
		GlobalAlpha: c.Consistency.GlobalAlpha,
		NodeSplit:   pairs,
	}
}

// RankingOptions builds simulation options. higherIsBetter, when non-nil,
// comes from the dataset and overrides the configured direction.
func (c *Config) RankingOptions(higherIsBetter *bool) ranking.Options {
	opts := ranking.DefaultOptions()
	opts.Iterations = c.Ranking.Iterations
	opts.Seed = c.Ranking.Seed
	opts.HigherIsBetter = c.Ranking.HigherIsBetter
	if higherIsBetter != nil {
		opts.HigherIsBetter = *higherIsBetter
	}
	opts.UncertaintyMargin = c.Ranking.UncertaintyMargin
	opts.Workers = c.Ranking.Workers
	return opts
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
