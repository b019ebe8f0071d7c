// Package csvfile writes flattened program rows to a comma-delimited file in
// which every field is quoted.
package csvfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Writer is a ProgramSink producing the tabular output file.
type Writer struct {
	mu     sync.Mutex
	closer io.Closer
	buf    *bufio.Writer
	rows   int
	closed bool
}

// Create truncates path and writes the header row.
func Create(path string) (*Writer, error) {
	// #nosec G304 -- output path comes from configuration.
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv output: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the header to w and returns a Writer that owns it. When w
// is also an io.Closer it is closed by Close.
func NewWriter(w io.Writer) (*Writer, error) {
	out := &Writer{buf: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		out.closer = c
	}
	if err := out.writeRecord(crawler.RowHeader); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteProgram appends one row per item, or a single row when the program has none.
func (w *Writer) WriteProgram(_ context.Context, _ string, program crawler.ProgramRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("csv writer is closed")
	}
	for _, row := range crawler.Flatten(program) {
		if err := w.writeRecord(row.Values()); err != nil {
			return err
		}
		w.rows++
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}
	return nil
}

// Rows reports how many data rows were written, excluding the header.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes buffered rows and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close csv output: %w", err)
	}
	return nil
}

func (w *Writer) writeRecord(fields []string) error {
	if _, err := w.buf.WriteString(FormatRecord(fields)); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	return nil
}

// FormatRecord renders fields as one CRLF-terminated line with every field
// quoted and embedded quotes doubled.
func FormatRecord(fields []string) string {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
	return b.String()
}
