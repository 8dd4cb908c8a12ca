// Package input loads datasets of pairwise comparisons from disk or from a
// request body. The file extension selects the decoder.
package input

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Format names a dataset encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// ErrUnsupportedFormat is returned for unknown file extensions
var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// Source produces a dataset for an analysis run
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Load reads the dataset. It should respect the context for cancellation.
	Load(ctx context.Context) (*model.Dataset, error)
}

// FileSource reads a dataset file on every Load
type FileSource struct {
	Path string
}

func (s FileSource) Name() string {
	return filepath.Base(s.Path)
}

func (s FileSource) Load(ctx context.Context) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(s.Path)
}

// FormatFromPath maps a file extension to a Format
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// LoadFile reads and decodes a dataset file
func LoadFile(path string) (*model.Dataset, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return ds, nil
}

// Decode reads a dataset in the given format
func Decode(r io.Reader, format Format) (*model.Dataset, error) {
	ds := &model.Dataset{}
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(ds); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	case FormatTOML:
		if err := toml.NewDecoder(r).Decode(ds); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(ds); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatCSV:
		rows, err := readCSV(r)
		if err != nil {
			return nil, err
		}
		if ds.Comparisons, err = parseRows(rows); err != nil {
			return nil, err
		}
	case FormatXLSX:
		rows, err := readXLSX(r)
		if err != nil {
			return nil, err
		}
		if ds.Comparisons, err = parseRows(rows); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return ds, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

// readXLSX reads the first sheet of a workbook
func readXLSX(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

var columns = []string{"treatment_a", "treatment_b", "effect_estimate", "standard_error", "study_id"}

// parseRows converts a header row plus data rows into comparisons. Header
// names are case-insensitive and may appear in any order; study_id is optional.
func parseRows(rows [][]string) ([]model.Comparison, error) {
	if len(rows) == 0 {
		return nil, errors.New("table is empty; expected a header row")
	}

	index := make(map[string]int)
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		index[key] = i
	}
	for _, c := range columns[:4] {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]model.Comparison, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := n + 2
		effect, err := parseFloat(cell(row, "effect_estimate"))
		if err != nil {
			return nil, fmt.Errorf("row %d: effect_estimate: %w", line, err)
		}
		se, err := parseFloat(cell(row, "standard_error"))
		if err != nil {
			return nil, fmt.Errorf("row %d: standard_error: %w", line, err)
		}
		out = append(out, model.Comparison{
			TreatmentA:     cell(row, "treatment_a"),
			TreatmentB:     cell(row, "treatment_b"),
			EffectEstimate: effect,
			StandardError:  se,
			StudyID:        cell(row, "study_id"),
		})
	}
	return out, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("empty value")
	}
	return strconv.ParseFloat(s, 64)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
