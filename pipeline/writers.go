package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-book-cards/fileutil"
	"github.com/aluiziolira/go-book-cards/models"
)

// JSONIndent is the indentation of the output document.
const JSONIndent = "    "

var csvHeader = []string{"title", "rating", "description", "original_image_url", "thumbnail_image", "buy_link", "last_update_date"}

// CSVWriter collects records and writes them as CSV on Close.
type CSVWriter struct {
	filename string
	buf      bytes.Buffer
	writer   *csv.Writer
	mu       sync.Mutex
}

// NewCSVWriter prepares a CSV writer and buffers the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := fileutil.EnsureParentDir(filename); err != nil {
		return nil, err
	}

	cw := &CSVWriter{filename: filename}
	cw.writer = csv.NewWriter(&cw.buf)
	if err := cw.writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

// Write buffers books as CSV rows.
func (cw *CSVWriter) Write(books []*models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, book := range books {
		record := []string{
			book.Title,
			book.Rating,
			book.Description,
			book.OriginalImageURL,
			book.ThumbnailImage,
			book.BuyLink,
			book.LastUpdateDate.String(),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	return nil
}

// Close flushes the buffered rows to the output file, replacing it.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	if err := fileutil.WriteFileAtomic(cw.filename, cw.buf.Bytes()); err != nil {
		return fmt.Errorf("write csv file: %w", err)
	}
	slog.Info("data saved to csv file", slog.String("path", cw.filename))
	return nil
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	return fileutil.NonEmpty(cw.filename)
}

// JSONWriter collects records and writes them as one indented JSON array
// on Close.
type JSONWriter struct {
	filename string
	books    []*models.Book
	mu       sync.Mutex
}

// NewJSONWriter prepares the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := fileutil.EnsureParentDir(filename); err != nil {
		return nil, err
	}
	return &JSONWriter{
		filename: filename,
		books:    []*models.Book{},
	}, nil
}

// Write buffers books in order.
func (jw *JSONWriter) Write(books []*models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.books = append(jw.books, books...)
	return nil
}

// Close encodes all buffered books and replaces the output file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", JSONIndent)
	if err := encoder.Encode(jw.books); err != nil {
		return fmt.Errorf("encode json document: %w", err)
	}

	if err := fileutil.WriteFileAtomic(jw.filename, buf.Bytes()); err != nil {
		return fmt.Errorf("write json file: %w", err)
	}
	slog.Info("data saved to json file", slog.String("path", jw.filename), slog.Int("records", len(jw.books)))
	return nil
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return fileutil.NonEmpty(jw.filename)
}
