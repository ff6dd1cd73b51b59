package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-orders/models"
)

// DualWriter writes the CSV table and the JSON export side by side.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter opens both outputs.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv output: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		_ = csvWriter.Close()
		return nil, fmt.Errorf("create json output: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes result to both formats.
func (dw *DualWriter) Write(result *models.CollectionResult) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(result); err != nil {
		return wrapf(err, "write csv output")
	}
	return wrapf(dw.jsonWriter.Write(result), "write json output")
}

// Close closes both writers; both are closed even if the first fails.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return errors.Join(
		wrapf(dw.csvWriter.Close(), "close csv output"),
		wrapf(dw.jsonWriter.Close(), "close json output"),
	)
}

// Validate checks both output files.
func (dw *DualWriter) Validate() error {
	return errors.Join(
		wrapf(dw.csvWriter.Validate(), "csv output"),
		wrapf(dw.jsonWriter.Validate(), "json output"),
	)
}

func wrapf(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// NewWriter picks the writer for format. For "dual" the JSON file sits next
// to filename with a .json extension.
func NewWriter(format, filename string) (OutputWriter, error) {
	var (
		writer OutputWriter
		err    error
	)
	switch format {
	case "csv":
		writer, err = NewCSVWriter(filename)
	case "json":
		writer, err = NewJSONWriter(filename)
	case "dual":
		writer, err = NewDualWriter(filename, SiblingPath(filename, ".json"))
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return writer, nil
}

// SiblingPath swaps the extension of filename for ext.
func SiblingPath(filename, ext string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}
