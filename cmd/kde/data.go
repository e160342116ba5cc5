package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// loadPoints reads one point per CSV row from path.
func loadPoints(path string, skipHeader bool) ([][]float64, error) {
	log.Debug().Msgf("Opening CSV file: %s", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	points, err := readPoints(file, skipHeader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug().Msgf("Parsed %d rows from %s", len(points), path)
	return points, nil
}

// readPoints parses CSV records of floats. Lines starting with '#' are
// skipped, and every row must have the same number of columns.
func readPoints(r io.Reader, skipHeader bool) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var points [][]float64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		if skipHeader {
			skipHeader = false
			continue
		}
		row := make([]float64, len(record))
		for i, val := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				line, _ := reader.FieldPos(i)
				return nil, fmt.Errorf("parse error at line %d col %d: %w", line, i, err)
			}
			row[i] = v
		}
		points = append(points, row)
	}
	return points, nil
}

// writeDensities writes one estimate per line.
func writeDensities(w io.Writer, densities []float64) error {
	bw := bufio.NewWriter(w)
	for _, d := range densities {
		bw.WriteString(strconv.FormatFloat(d, 'g', -1, 64))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// saveDensities writes densities to path, or to stdout when path is "" or "-".
func saveDensities(path string, densities []float64) error {
	if path == "" || path == "-" {
		return writeDensities(os.Stdout, densities)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeDensities(file, densities); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}
