package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

// DefaultTicksPerFile is one hour of simulated time at 10 Hz.
const DefaultTicksPerFile = 36000

// JSONLZstdWriter appends one JSON line per record to zstd-compressed files.
// A new file starts every ticksPerFile ticks and is named by its first tick,
// so lexical order is replay order.
type JSONLZstdWriter struct {
	baseDir      string
	prefix       string
	ticksPerFile uint64

	mu      sync.Mutex
	curFile uint64
	open    bool
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, ticksPerFile uint64) *JSONLZstdWriter {
	if ticksPerFile == 0 {
		ticksPerFile = DefaultTicksPerFile
	}
	return &JSONLZstdWriter{
		baseDir:      baseDir,
		prefix:       prefix,
		ticksPerFile: ticksPerFile,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(tick uint64, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	first := tick - tick%w.ticksPerFile
	if !w.open || first != w.curFile {
		if err := w.rotateLocked(first); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(first uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathFor(first)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// A restart inside the same window appends a new zstd frame; readers
	// decode concatenated frames transparently.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curFile = first
	w.open = true
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.open = false
	return err
}

func (w *JSONLZstdWriter) pathFor(first uint64) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%012d.jsonl.zst", w.prefix, first))
}

// TickLogger writes one JSONL entry per tick (compressed) under
// <worldDir>/ticks.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(worldDir string, ticksPerFile uint64) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(TickDir(worldDir), "ticks", ticksPerFile)}
}

func TickDir(worldDir string) string { return filepath.Join(worldDir, "ticks") }

func (l *TickLogger) WriteTick(e world.TickLogEntry) error { return l.w.Write(e.Tick, e) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// MultiTickLogger fans one entry out to several loggers. Every logger sees
// every entry; the first error is returned.
type MultiTickLogger []world.TickLogger

func (m MultiTickLogger) WriteTick(e world.TickLogEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteTick(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
