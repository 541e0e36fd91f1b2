package writer

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

var csvHeader = []string{"open_time", "close_time", "open", "high", "low", "close", "volume"}

// CSVWriter writes bars to a single CSV file with a header row.
type CSVWriter struct {
	path string
	file *os.File
	w    *csv.Writer
}

// NewCSVWriter creates a writer targeting path. Parent directories are
// created on Initialize.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

// Initialize creates the output file and writes the header.
func (c *CSVWriter) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to create output directory", err)
	}

	file, err := os.Create(c.path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to create csv file", err)
	}

	c.file = file
	c.w = csv.NewWriter(file)

	if err := c.w.Write(csvHeader); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to write csv header", err)
	}

	return nil
}

// Write appends one bar as a CSV row.
func (c *CSVWriter) Write(bar types.Bar) error {
	if c.w == nil {
		return errors.New(errors.ErrCodeUnknown, "csv writer is not initialized")
	}

	row := []string{
		bar.OpenTime.UTC().Format(time.RFC3339),
		bar.CloseTime.UTC().Format(time.RFC3339),
		formatFloat(bar.Open),
		formatFloat(bar.High),
		formatFloat(bar.Low),
		formatFloat(bar.Close),
		formatFloat(bar.Volume),
	}

	if err := c.w.Write(row); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to write csv row", err)
	}

	return nil
}

// Finalize flushes buffered rows and returns the output path.
func (c *CSVWriter) Finalize() (string, error) {
	if c.w == nil {
		return "", errors.New(errors.ErrCodeUnknown, "csv writer is not initialized")
	}

	c.w.Flush()

	if err := c.w.Error(); err != nil {
		return "", errors.Wrap(errors.ErrCodeUnknown, "failed to flush csv writer", err)
	}

	return c.path, nil
}

// Close closes the underlying file.
func (c *CSVWriter) Close() error {
	if c.file == nil {
		return nil
	}

	err := c.file.Close()
	c.file = nil
	c.w = nil

	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
