package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/discordwell/cliaas/pkg/compression"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/json"
	"github.com/discordwell/cliaas/pkg/models"
)

const (
	ticketsFile  = "tickets.jsonl"
	messagesFile = "messages.jsonl"
	cursorFile   = "cursor.json"

	segmentMarker = ".seg-"

	// minCompactRecords keeps small syncs from compacting after every page
	minCompactRecords = 1000
)

type cursorRecord struct {
	Connector string        `json:"connector"`
	Cursor    models.Cursor `json:"cursor"`
	SavedAt   time.Time     `json:"saved_at"`
}

// FileStore writes one JSONL file per record kind under <dir>/<source>/.
// Each upsert lands in a segment file written atomically next to it.
// Segments are folded into the base file once they outweigh it and on
// Close, so a cycle costs I/O proportional to what it stores. Files are
// optionally compressed.
type FileStore struct {
	dir   string
	codec compression.Algorithm

	mu       sync.Mutex
	tickets  map[string]*recordLog[models.Ticket]
	messages map[string]*recordLog[models.Message]
}

// NewFileStore creates a FileStore rooted at dir
func NewFileStore(dir string, codec compression.Algorithm) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store: file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "store: failed to create output directory")
	}
	return &FileStore{
		dir:      dir,
		codec:    codec,
		tickets:  make(map[string]*recordLog[models.Ticket]),
		messages: make(map[string]*recordLog[models.Message]),
	}, nil
}

// Dir returns the root directory
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(src, name string) string {
	if name != cursorFile {
		name += f.codec.Extension()
	}
	return filepath.Join(f.dir, src, name)
}

// LoadCursor implements Store
func (f *FileStore) LoadCursor(_ context.Context, connector string) (models.Cursor, error) {
	b, err := os.ReadFile(f.path(connector, cursorFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "store: failed to read cursor")
	}
	var rec cursorRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "store: corrupt cursor file")
	}
	return rec.Cursor, nil
}

// SaveCursor implements Store
func (f *FileStore) SaveCursor(_ context.Context, connector string, cursor models.Cursor) error {
	b, err := json.MarshalIndent(cursorRecord{Connector: connector, Cursor: cursor, SavedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "store: failed to encode cursor")
	}
	return writeAtomic(f.path(connector, cursorFile), compression.None, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// UpsertTickets implements Store
func (f *FileStore) UpsertTickets(_ context.Context, tickets []models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for src, batch := range bySource(tickets, func(t models.Ticket) string { return t.Source }) {
		l, err := cachedLog(f.tickets, f.dir, src, ticketsFile, f.codec, models.Ticket.Key)
		if err != nil {
			return err
		}
		if err := l.append(batch); err != nil {
			return err
		}
	}
	return nil
}

// UpsertMessages implements Store
func (f *FileStore) UpsertMessages(_ context.Context, messages []models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for src, batch := range bySource(messages, func(m models.Message) string { return m.Source }) {
		l, err := cachedLog(f.messages, f.dir, src, messagesFile, f.codec, models.Message.Key)
		if err != nil {
			return err
		}
		if err := l.append(batch); err != nil {
			return err
		}
	}
	return nil
}

// Close folds outstanding segments into their base files
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, l := range f.tickets {
		if err := l.compact(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, l := range f.messages {
		if err := l.compact(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func bySource[T any](records []T, source func(T) string) map[string][]T {
	out := make(map[string][]T)
	for _, r := range records {
		out[source(r)] = append(out[source(r)], r)
	}
	return out
}

func cachedLog[T any](cache map[string]*recordLog[T], dir, src, name string, codec compression.Algorithm, key func(T) string) (*recordLog[T], error) {
	if l, ok := cache[src]; ok {
		return l, nil
	}
	l, err := openLog(dir, src, name, codec, key)
	if err != nil {
		return nil, err
	}
	cache[src] = l
	return l, nil
}

// recordLog is one record kind of one source: a compacted base file plus
// the segments written since the last compaction
type recordLog[T any] struct {
	dir   string
	stem  string
	codec compression.Algorithm
	key   func(T) string

	set      *keyed[T]
	segments []string
	pending  int
	nextSeq  int
}

type segment struct {
	path string
	seq  int
}

// openLog reads the base file and replays any segments left behind, in
// write order
func openLog[T any](dir, src, name string, codec compression.Algorithm, key func(T) string) (*recordLog[T], error) {
	l := &recordLog[T]{
		dir:     filepath.Join(dir, src),
		stem:    strings.TrimSuffix(name, ".jsonl"),
		codec:   codec,
		key:     key,
		set:     newKeyed[T](),
		nextSeq: 1,
	}
	if _, err := l.read(l.basePath()); err != nil {
		return nil, err
	}

	suffix := ".jsonl" + codec.Extension()
	matches, err := filepath.Glob(filepath.Join(l.dir, l.stem+segmentMarker+"*"+suffix))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "store: failed to list segments")
	}
	var segs []segment
	for _, m := range matches {
		digits := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), l.stem+segmentMarker), suffix)
		seq, err := strconv.Atoi(digits)
		if err != nil || seq <= 0 {
			continue
		}
		segs = append(segs, segment{path: m, seq: seq})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })

	for _, seg := range segs {
		n, err := l.read(seg.path)
		if err != nil {
			return nil, err
		}
		l.segments = append(l.segments, seg.path)
		l.pending += n
		l.nextSeq = seg.seq + 1
	}
	return l, nil
}

func (l *recordLog[T]) basePath() string {
	return filepath.Join(l.dir, l.stem+".jsonl"+l.codec.Extension())
}

func (l *recordLog[T]) segmentPath(seq int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s%s%06d.jsonl%s", l.stem, segmentMarker, seq, l.codec.Extension()))
}

// read merges the records in path into the set and returns how many it read
func (l *recordLog[T]) read(path string) (int, error) {
	n := 0
	err := readLines(path, l.codec, func(line []byte) error {
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return err
		}
		l.set.put(l.key(v), v)
		n++
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "store: failed to read "+filepath.Base(path))
	}
	return n, nil
}

// append persists batch as a new segment before it becomes visible
func (l *recordLog[T]) append(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	seg := l.segmentPath(l.nextSeq)
	if err := writeRecords(seg, l.codec, batch); err != nil {
		return err
	}
	l.nextSeq++
	l.segments = append(l.segments, seg)
	l.pending += len(batch)
	for _, v := range batch {
		l.set.put(l.key(v), v)
	}

	if l.pending >= minCompactRecords && l.pending >= len(l.set.items) {
		return l.compact()
	}
	return nil
}

// compact rewrites the base file with every record and drops the segments.
// Segments that survive a crash after the rewrite replay to the same state.
func (l *recordLog[T]) compact() error {
	if len(l.segments) == 0 {
		return nil
	}
	if err := writeRecords(l.basePath(), l.codec, l.set.items); err != nil {
		return err
	}
	for _, seg := range l.segments {
		if err := os.Remove(seg); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrorTypeFile, "store: failed to remove "+filepath.Base(seg))
		}
	}
	l.segments = nil
	l.pending = 0
	return nil
}

func writeRecords[T any](path string, codec compression.Algorithm, items []T) error {
	return writeAtomic(path, codec, func(w io.Writer) error {
		enc := json.NewLineEncoder(w)
		for _, v := range items {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return enc.Flush()
	})
}

func readLines(path string, codec compression.Algorithm, fn func(line []byte) error) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	r, err := compression.NewReader(codec, file)
	if err != nil {
		return err
	}
	defer r.Close()
	return json.DecodeLines(r, fn)
}

// writeAtomic writes path through a temp file in the same directory and
// renames it into place.
func writeAtomic(path string, codec compression.Algorithm, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "store: failed to create directory")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "store: failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	write := func() error {
		w, err := compression.NewWriter(codec, tmp, compression.Default)
		if err != nil {
			return err
		}
		if err := fill(w); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	}
	if err := write(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "store: failed to write "+filepath.Base(path))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "store: failed to sync "+filepath.Base(path))
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "store: failed to close "+filepath.Base(path))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "store: failed to replace "+filepath.Base(path))
	}
	return nil
}
