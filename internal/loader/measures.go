package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/ili-toolbox/ili-server/internal/model"
)

// gzipMagic prefixes every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// progressEvery is the row interval between working-progress reports.
const progressEvery = 5000

// ParseMeasures reads a delimited measure table into an atomically-loadable
// dataset. The header must start with a name column, then x,y and optional z
// coordinate columns; every remaining column becomes one measure. Values that
// fail to parse load as NaN (no data). Gzip input is detected and inflated
// transparently.
func ParseMeasures(ctx context.Context, data []byte, progress func(string)) (*model.Dataset, error) {
	var r io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("inflating measure table: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading measure header: %w", err)
	}
	if looksTabSeparated(header) {
		// Re-read the whole table with a tab delimiter.
		var tr io.Reader = bytes.NewReader(data)
		if bytes.HasPrefix(data, gzipMagic) {
			zr, err := gzip.NewReader(tr)
			if err != nil {
				return nil, fmt.Errorf("inflating measure table: %w", err)
			}
			defer zr.Close()
			tr = zr
		}
		cr = csv.NewReader(tr)
		cr.Comma = '\t'
		cr.ReuseRecord = true
		cr.FieldsPerRecord = -1
		header, err = cr.Read()
		if err != nil {
			return nil, fmt.Errorf("reading measure header: %w", err)
		}
	}

	layout, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var spots []*model.Spot
	values := make([][]float64, len(layout.measureNames))

	row := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		row++

		if len(rec) < layout.firstMeasure {
			return nil, fmt.Errorf("row %d: expected at least %d columns, got %d", row, layout.firstMeasure, len(rec))
		}

		name := strings.TrimSpace(rec[0])
		if name == "" {
			return nil, fmt.Errorf("row %d: empty spot name", row)
		}

		x := parseValue(rec[1])
		y := parseValue(rec[2])
		z := 0.0
		if layout.hasZ {
			z = parseValue(rec[3])
		}
		spots = append(spots, model.NewSpot(name, x, y, z))

		for i := range layout.measureNames {
			col := layout.firstMeasure + i
			v := math.NaN()
			if col < len(rec) {
				v = parseValue(rec[col])
			}
			values[i] = append(values[i], v)
		}

		if progress != nil && row%progressEvery == 0 {
			progress(fmt.Sprintf("loading measures: %d rows", row))
		}
	}

	if len(spots) == 0 {
		return nil, fmt.Errorf("measure table has no rows")
	}

	measures := make([]model.Measure, len(layout.measureNames))
	for i, name := range layout.measureNames {
		measures[i] = model.Measure{Name: name, Values: values[i]}
	}
	return model.NewDataset(spots, measures), nil
}

type headerLayout struct {
	hasZ         bool
	firstMeasure int
	measureNames []string
}

func parseHeader(header []string) (headerLayout, error) {
	if len(header) < 3 {
		return headerLayout{}, fmt.Errorf("measure header needs name,x,y columns, got %d columns", len(header))
	}
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if norm[1] != "x" || norm[2] != "y" {
		return headerLayout{}, fmt.Errorf("measure header must start with name,x,y; got %q,%q,%q", header[0], header[1], header[2])
	}

	layout := headerLayout{firstMeasure: 3}
	if len(norm) > 3 && norm[3] == "z" {
		layout.hasZ = true
		layout.firstMeasure = 4
	}
	for _, h := range header[layout.firstMeasure:] {
		name := strings.TrimSpace(h)
		if name == "" {
			return headerLayout{}, fmt.Errorf("measure header has an empty measure name")
		}
		layout.measureNames = append(layout.measureNames, name)
	}
	return layout, nil
}

// parseValue reads one numeric cell, mapping blanks and junk to NaN.
func parseValue(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// looksTabSeparated detects tab-delimited tables handed in with a .csv reader:
// the whole header lands in one field containing tabs.
func looksTabSeparated(header []string) bool {
	return len(header) == 1 && strings.Contains(header[0], "\t")
}
