// Package pipeline materializes card images and writes the finished records.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-book-cards/models"
)

type formatWriter struct {
	format string
	OutputWriter
}

// DualWriter sends every record to a JSON writer and a CSV writer. On Close
// the JSON document is committed first and a failure there leaves the CSV
// file untouched.
type DualWriter struct {
	outputs []formatWriter
}

// NewDualWriter prepares JSON output at jsonFilename and CSV output at
// csvFilename.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		return nil, fmt.Errorf("json writer: %w", err)
	}
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("csv writer: %w", err)
	}

	return &DualWriter{outputs: []formatWriter{
		{format: "json", OutputWriter: jsonWriter},
		{format: "csv", OutputWriter: csvWriter},
	}}, nil
}

func (dw *DualWriter) Write(books []*models.Book) error {
	for _, out := range dw.outputs {
		if err := out.Write(books); err != nil {
			return fmt.Errorf("%s write: %w", out.format, err)
		}
	}
	return nil
}

func (dw *DualWriter) Close() error {
	for _, out := range dw.outputs {
		if err := out.Close(); err != nil {
			return fmt.Errorf("%s commit: %w", out.format, err)
		}
	}
	return nil
}

// Validate reports every output whose file is missing or empty.
func (dw *DualWriter) Validate() error {
	var errs []error
	for _, out := range dw.outputs {
		if err := out.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s output: %w", out.format, err))
		}
	}
	return errors.Join(errs...)
}
