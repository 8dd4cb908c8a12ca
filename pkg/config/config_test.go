package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ritzau/nma-engine/pkg/logging"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("nma", pflag.ContinueOnError)
	RegisterFlags(f)
	require.NoError(t, f.Parse(args))
	return f
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nma.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(flags(t))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 0.8, cfg.Geometry.StarHubFraction)
	assert.Equal(t, 0.05, cfg.Consistency.ModerateAlpha)
	assert.Equal(t, 1e-12, cfg.Consistency.MinVariance)
	assert.Equal(t, 1000, cfg.Ranking.Iterations)
	assert.Equal(t, uint64(20240101), cfg.Ranking.Seed)
	assert.Equal(t, 1, cfg.Ranking.Workers)
	assert.False(t, cfg.Ranking.HigherIsBetter)

	pairs, err := cfg.NodeSplitPairs()
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestLoad_Precedence(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
format = "json"

[ranking]
iterations = 200
seed = 7
workers = 2

[consistency]
node_split = ["A:B"]
`)
	t.Setenv("NMA_RANKING__ITERATIONS", "300")
	t.Setenv("NMA_GEOMETRY__GOOD_DENSITY", "0.25")

	cfg, err := Load(flags(t, "--config", path, "--workers", "4"))
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, 300, cfg.Ranking.Iterations, "env beats file")
	assert.Equal(t, uint64(7), cfg.Ranking.Seed)
	assert.Equal(t, 4, cfg.Ranking.Workers, "flag beats file")
	assert.Equal(t, 0.25, cfg.Geometry.GoodDensity)

	pairs, err := cfg.NodeSplitPairs()
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"A", "B"}}, pairs)

	cfg, err = Load(flags(t, "--config", path, "--iterations", "50"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Ranking.Iterations, "flag beats env")
}

func TestLoad_ExplicitMissingConfigFails(t *testing.T) {
	_, err := Load(flags(t, "--config", filepath.Join(t.TempDir(), "nope.toml")))
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(flags(t, "--format", "xml"))
	assert.ErrorContains(t, err, "format")

	_, err = Load(flags(t, "--node-split", "A-B"))
	assert.ErrorContains(t, err, "A:B")

	_, err = Load(flags(t, "--verbosity", "loud"))
	assert.Error(t, err)

	path := writeConfig(t, "[consistency]\nsevere_alpha = 0.2\n")
	_, err = Load(flags(t, "--config", path))
	assert.ErrorContains(t, err, "alphas")
}

func TestConfig_Options(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(flags(t, "--node-split", "A:B,C:D", "--higher-is-better", "-vv"))
	require.NoError(t, err)

	opts := cfg.ConsistencyOptions()
	assert.Equal(t, [][2]string{{"A", "B"}, {"C", "D"}}, opts.NodeSplit)
	assert.Equal(t, 0.01, opts.Alphas.Severe)

	assert.True(t, cfg.RankingOptions(nil).HigherIsBetter)
	lower := false
	assert.False(t, cfg.RankingOptions(&lower).HigherIsBetter)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelTrace, level)

	cfg.Verbosity = "warn"
	level, err = cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	assert.Equal(t, 0.5, cfg.GeometryThresholds().ExcellentDensity)
}
