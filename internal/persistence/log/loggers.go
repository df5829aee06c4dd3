package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"starforge.io/internal/sim/world"
)

// DefaultSegmentTicks is how many ticks one tick log file holds.
const DefaultSegmentTicks = 36000

// segmentWriter appends JSON lines to zstd files named by the first tick of
// each segment, so file order is tick order and names never depend on the
// wall clock.
type segmentWriter struct {
	dir    string
	prefix string

	mu    sync.Mutex
	start uint64
	open  bool
	f     *os.File
	enc   *zstd.Encoder
	buf   *bufio.Writer
}

func (w *segmentWriter) write(start uint64, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open || start != w.start {
		if err := w.openLocked(start); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *segmentWriter) openLocked(start uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	// Reopening a segment appends a new zstd frame; readers see one stream.
	f, err := os.OpenFile(w.path(start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc = f, enc
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	w.start, w.open = start, true
	return nil
}

func (w *segmentWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *segmentWriter) closeLocked() error {
	if !w.open {
		return nil
	}
	w.open = false
	flushErr := w.buf.Flush()
	encErr := w.enc.Close()
	fileErr := w.f.Close()
	w.f, w.enc, w.buf = nil, nil, nil
	return errors.Join(flushErr, encErr, fileErr)
}

func (w *segmentWriter) path(start uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%020d.jsonl.zst", w.prefix, start))
}

// TickLogger writes one JSONL entry per tick into tick-numbered segments.
type TickLogger struct {
	seg   *segmentWriter
	every uint64
}

func NewTickLogger(worldDir string) *TickLogger {
	return NewTickLoggerSegments(worldDir, DefaultSegmentTicks)
}

func NewTickLoggerSegments(worldDir string, everyTicks uint64) *TickLogger {
	if everyTicks == 0 {
		everyTicks = DefaultSegmentTicks
	}
	return &TickLogger{
		seg:   &segmentWriter{dir: filepath.Join(worldDir, "events"), prefix: "events"},
		every: everyTicks,
	}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error {
	return l.seg.write(v.Tick/l.every*l.every, v)
}

func (l *TickLogger) Close() error { return l.seg.close() }

// ListTickFiles returns the tick log files under dir in write order.
func ListTickFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// EachTick decodes the entries of one tick log file in order and stops at the
// first error fn returns.
func EachTick(path string, fn func(world.TickLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var entry world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return sc.Err()
}
