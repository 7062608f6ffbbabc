package requestlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Backend persists entries.
type Backend interface {
	Write(ctx context.Context, e *Entry) error
	Close() error
}

// Reader is implemented by backends that can read entries back.
type Reader interface {
	// Read returns the entries of the UTC day containing date, oldest first.
	Read(ctx context.Context, date time.Time) ([]*Entry, error)
}

const dateLayout = "2006-01-02"

// JSONLBackend appends entries to one JSON Lines file per UTC day:
// <dir>/<prefix>-YYYY-MM-DD.jsonl.
type JSONLBackend struct {
	dir    string
	prefix string

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewJSONLBackend creates dir if needed.
func NewJSONLBackend(dir, prefix string) (*JSONLBackend, error) {
	if dir == "" {
		dir = "logs"
	}
	if prefix == "" {
		prefix = "deimos-logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &JSONLBackend{dir: dir, prefix: prefix}, nil
}

// Path returns the file holding entries for the UTC day containing date.
func (b *JSONLBackend) Path(date time.Time) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s-%s.jsonl", b.prefix, date.UTC().Format(dateLayout)))
}

func (b *JSONLBackend) Write(_ context.Context, e *Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	day := e.Timestamp.UTC().Format(dateLayout)
	if b.file == nil || b.day != day {
		if b.file != nil {
			_ = b.file.Close()
		}
		f, err := os.OpenFile(b.Path(e.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			b.file = nil
			return fmt.Errorf("open log file: %w", err)
		}
		b.file = f
		b.day = day
	}

	if _, err := b.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	return nil
}

// Close closes the current file.
func (b *JSONLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	b.day = ""
	return err
}

// Files lists the log files, oldest first.
func (b *JSONLBackend) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(b.dir, b.prefix+"-*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (b *JSONLBackend) Read(_ context.Context, date time.Time) ([]*Entry, error) {
	return readJSONL(b.Path(date))
}

// ReadAll returns the entries of every log file, oldest file first.
func (b *JSONLBackend) ReadAll(_ context.Context) ([]*Entry, error) {
	files, err := b.Files()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, f := range files {
		entries, err := readJSONL(f)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readJSONL(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
