package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triangle = `{
  "comparisons": [
    {"treatment_a": "A", "treatment_b": "B", "effect_estimate": 1.0, "standard_error": 0.1, "study_id": "s1"},
    {"treatment_a": "B", "treatment_b": "C", "effect_estimate": 1.0, "standard_error": 0.1, "study_id": "s2"},
    {"treatment_a": "A", "treatment_b": "C", "effect_estimate": 2.0, "standard_error": 0.1, "study_id": "s3"}
  ]
}`

func init() {
	color.NoColor = true
}

// execute runs the CLI in an empty directory so no nma.toml is picked up
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGeometryJSON(t *testing.T) {
	path := writeDataset(t, triangle)

	out, err := execute(t, "geometry", path, "--format", "json")
	require.NoError(t, err)

	var report model.GeometryReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.NumTreatments)
	assert.True(t, report.IsConnected)
}

func TestAnalyzeJSON(t *testing.T) {
	path := writeDataset(t, triangle)

	out, err := execute(t, "analyze", "--input", path, "--format", "json", "--iterations", "500")
	require.NoError(t, err)

	var report model.AnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotNil(t, report.Ranking)
	assert.Equal(t, "A", report.Ranking.BestTreatment)
	assert.Equal(t, 500, report.Ranking.Iterations)
}

func TestConsistencyText(t *testing.T) {
	path := writeDataset(t, triangle)

	out, err := execute(t, "consistency", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Consistency")
}

func TestInvalidNetwork(t *testing.T) {
	path := writeDataset(t, `{"comparisons": [{"treatment_a": "A", "treatment_b": "A", "effect_estimate": 1, "standard_error": 0.1}]}`)

	_, err := execute(t, "geometry", path)
	require.Error(t, err)
	assert.True(t, model.IsInvalidNetwork(err))
}

func TestMissingInput(t *testing.T) {
	_, err := execute(t, "rank")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dataset given")
}

func TestBadFlagValue(t *testing.T) {
	path := writeDataset(t, triangle)

	_, err := execute(t, "rank", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be text or json")
}
