package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"telemetryd/internal/event"
)

// JSONLines writes one encoded envelope per line.
type JSONLines struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool
}

// NewJSONLines writes to w. The caller keeps ownership of w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

// OpenJSONLines appends to the file at path, creating it and its directory.
// "-" selects stdout.
func OpenJSONLines(path string) (*JSONLines, error) {
	if path == "" || path == "-" {
		return NewJSONLines(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create jsonl directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl output: %w", err)
	}
	return &JSONLines{w: f, closer: f}, nil
}

// Emit encodes e and writes it with a trailing newline in a single write.
func (j *JSONLines) Emit(e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return event.ErrSinkClosed
	}
	if _, err := j.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the underlying file if this sink opened it.
func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
