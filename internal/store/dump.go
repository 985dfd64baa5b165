package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ashureev/reflection-judge/internal/domain"
)

// ErrDumpQueueFull is returned when the dump writer cannot keep up.
var ErrDumpQueueFull = errors.New("reflection dump queue full")

var errDumperClosed = errors.New("reflection dumper closed")

// DumpConfig controls per-pass JSON dumps.
type DumpConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// JSONDumper writes one JSON file per reflection record from a background goroutine.
type JSONDumper struct {
	dir    string
	queue  chan *domain.ReflectionRecord
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewJSONDumper creates the dump directory and starts the writer. A disabled
// config yields a nil dumper, which accepts and discards records.
func NewJSONDumper(cfg DumpConfig, logger *slog.Logger) (*JSONDumper, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("reflection dump dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create reflection dump dir: %w", err)
	}

	d := &JSONDumper{
		dir:    cfg.Dir,
		queue:  make(chan *domain.ReflectionRecord, cfg.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.loop()
	return d, nil
}

// Record queues rec for writing. It never blocks.
func (d *JSONDumper) Record(_ context.Context, rec *domain.ReflectionRecord) error {
	if d == nil || rec == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errDumperClosed
	}
	select {
	case d.queue <- rec:
		return nil
	default:
		return ErrDumpQueueFull
	}
}

// Close flushes queued records and stops the writer.
func (d *JSONDumper) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return nil
}

func (d *JSONDumper) loop() {
	defer close(d.done)
	for rec := range d.queue {
		if err := d.write(rec); err != nil {
			d.logger.Warn("Failed to write reflection dump", "session_id", rec.SessionID, "error", err)
		}
	}
}

func (d *JSONDumper) write(rec *domain.ReflectionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reflection dump: %w", err)
	}
	path := filepath.Join(d.dir, DumpFileName(rec))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write reflection dump: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize reflection dump: %w", err)
	}
	return nil
}

// DumpFileName returns <session>_<unixmillis>.json with path separators stripped.
func DumpFileName(rec *domain.ReflectionRecord) string {
	session := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, rec.SessionID)
	if session == "" {
		session = "unknown"
	}
	return fmt.Sprintf("%s_%d.json", session, rec.CreatedAt.UnixMilli())
}
