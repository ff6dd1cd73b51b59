package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-orders/models"
	"github.com/aluiziolira/go-scrape-orders/report"
)

// CSVWriter writes the flat order table. Every Write replaces the file
// contents with the given result.
type CSVWriter struct {
	file *os.File
	mu   sync.Mutex
}

// NewCSVWriter creates the output file and its parent directory.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}
	return &CSVWriter{file: f}, nil
}

// Write renders result as CSV.
func (cw *CSVWriter) Write(result *models.CollectionResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := rewind(cw.file); err != nil {
		return fmt.Errorf("rewind csv file: %w", err)
	}
	buffer := bufio.NewWriter(cw.file)
	if err := report.WriteCSV(buffer, result); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.file.Close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.file, "csv")
}

// JSONWriter writes the export document.
type JSONWriter struct {
	file *os.File
	now  func() time.Time
	mu   sync.Mutex
}

// NewJSONWriter creates the output file and its parent directory.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}
	return &JSONWriter{file: f, now: time.Now}, nil
}

// Write renders result as the export document, stamped with the current time.
func (jw *JSONWriter) Write(result *models.CollectionResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := rewind(jw.file); err != nil {
		return fmt.Errorf("rewind json file: %w", err)
	}
	buffer := bufio.NewWriter(jw.file)
	encoder := json.NewEncoder(buffer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report.NewExport(result, jw.now())); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.file, "json")
}

func createFile(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return os.Create(filename)
}

func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

func validateFile(f *os.File, kind string) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
