package resultstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/specialistvlad/looptune/internal/ctxlog"
	"gopkg.in/yaml.v3"
)

// File is a Store backed by a YAML stream: each Append writes one
// document to the end of the file.
type File struct {
	path string
	mu   sync.Mutex
}

// OpenFile returns a log appending to path. An existing file is kept and
// its records are part of the log.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to open results log: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the file the log is written to.
func (f *File) Path() string { return f.path }

// Append writes rec as a new YAML document.
func (f *File) Append(ctx context.Context, rec Record) error {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record %d: %w", rec.Seq, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode record %d: %w", rec.Seq, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out, err := os.OpenFile(f.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("failed to open results log: %w", err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		out.Close()
		return fmt.Errorf("failed to append record %d: %w", rec.Seq, err)
	}
	ctxlog.FromContext(ctx).Debug("Results: Record appended.", "file", f.path, "seq", rec.Seq, "status", rec.Status)
	return out.Close()
}

// Records decodes every document of the file.
func (f *File) Records(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read results log: %w", err)
	}
	var out []Record
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode results log %s: %w", f.path, err)
		}
		out = append(out, rec)
	}
	Sort(out)
	return out, nil
}
