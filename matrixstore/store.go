// Package matrixstore persists correction matrices and their usage
// metadata in a single append-only file, so the hottest entries survive a
// process restart and can be prewarmed into the in-memory cache.
//
// File layout: magic bytes, a little-endian uint32 compatibility level,
// then a sequence of records (key length, key string, the five matrix
// fields, use count, last-used timestamp). Replay is last-writer-wins per
// key. A file with the .zst suffix is transparently decompressed and opens
// read-only.
package matrixstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/klauspost/compress/zstd"

	"github.com/cascadiabits/bridgealign/affine"
)

var magicBytes = []byte("BAMX")

const compatibilityLevel uint32 = 1

var errReadOnly = errors.New("matrix store is read-only")

// Record is the persisted form of one matrix plus usage metadata.
type Record struct {
	Key        affine.MatrixKey
	Matrix     affine.TransformationMatrix
	UseCount   uint64
	LastUsedAt time.Time
}

type Store struct {
	mu      sync.RWMutex
	path    string
	file    *os.File // nil when read-only or degraded after a write fault
	records map[string]*Record
	index   *btree.BTreeG[*Record]
	now     func() time.Time
	log     *slog.Logger
}

// recordLess orders the usage index: highest use count first, most recent
// use breaking ties, key as the final tiebreaker for determinism.
func recordLess(a, b *Record) bool {
	if a.UseCount != b.UseCount {
		return a.UseCount > b.UseCount
	}
	if !a.LastUsedAt.Equal(b.LastUsedAt) {
		return a.LastUsedAt.After(b.LastUsedAt)
	}
	return a.Key.String() < b.Key.String()
}

// Open replays the store file at path. A missing file starts an empty
// store. A corrupt header degrades to a memory-only store and a truncated
// tail is cut back to the last clean record; neither is fatal.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		path:    path,
		records: make(map[string]*Record),
		index:   btree.NewG(2, recordLess),
		now:     time.Now,
		log:     log,
	}

	if strings.HasSuffix(path, ".zst") {
		return s, s.openCompressed(path)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open matrix store: %w", err)
	}

	cleanOffset, err := s.replay(bufio.NewReader(file))
	if err != nil {
		s.log.Error("matrix store unreadable, continuing without persistence", "path", path, "error", err)
		file.Close()
		return s, nil
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat matrix store: %w", err)
	}
	if stat.Size() == 0 {
		if err := writeHeader(file); err != nil {
			file.Close()
			return nil, fmt.Errorf("write matrix store header: %w", err)
		}
	} else if cleanOffset < stat.Size() {
		s.log.Warn("matrix store has a truncated tail, dropping it",
			"path", path, "clean_bytes", cleanOffset, "file_bytes", stat.Size())
		if err := file.Truncate(cleanOffset); err != nil {
			s.log.Error("failed to drop truncated tail, continuing without persistence", "error", err)
			file.Close()
			return s, nil
		}
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek matrix store: %w", err)
	}
	s.file = file
	return s, nil
}

func (s *Store) openCompressed(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open compressed matrix store: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	if _, err := s.replay(bufio.NewReader(dec)); err != nil {
		s.log.Error("compressed matrix store unreadable, continuing without persistence", "path", path, "error", err)
	}
	s.log.Info("opened compressed matrix store read-only", "path", path, "records", len(s.records))
	return nil
}

// replay reads header and records, returning the offset of the last clean
// record. A short read mid-record stops replay without failing.
func (s *Store) replay(r io.Reader) (int64, error) {
	magic := make([]byte, len(magicBytes))
	n, err := io.ReadFull(r, magic)
	if err == io.EOF && n == 0 {
		return 0, nil // fresh file
	}
	if err != nil {
		return 0, fmt.Errorf("reading magic bytes: %w", err)
	}
	if !bytes.Equal(magic, magicBytes) {
		return 0, fmt.Errorf("bad magic bytes %q", magic)
	}

	var level uint32
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return 0, fmt.Errorf("reading compatibility level: %w", err)
	}
	if level != compatibilityLevel {
		return 0, fmt.Errorf("unsupported compatibility level: %d", level)
	}

	offset := int64(len(magicBytes)) + 4
	for {
		rec, size, err := readRecord(r)
		if err == io.EOF {
			return offset, nil
		}
		if err != nil {
			s.log.Warn("stopping matrix store replay at damaged record", "offset", offset, "error", err)
			return offset, nil
		}
		s.insertLocked(rec)
		offset += size
	}
}

func (s *Store) insertLocked(rec *Record) {
	keyStr := rec.Key.String()
	if old, ok := s.records[keyStr]; ok {
		s.index.Delete(old)
	}
	s.records[keyStr] = rec
	s.index.ReplaceOrInsert(rec)
}

// Load returns the persisted matrix for key, if any.
func (s *Store) Load(key affine.MatrixKey) (affine.TransformationMatrix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key.String()]
	if !ok {
		return affine.TransformationMatrix{}, false
	}
	return rec.Matrix, true
}

// Save upserts the matrix for key, incrementing its use count and
// appending a record to the file. A write fault degrades the store to
// memory-only; the error is returned for the caller to log, not to fatal.
func (s *Store) Save(key affine.MatrixKey, m affine.TransformationMatrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := key.String()
	rec, ok := s.records[keyStr]
	if ok {
		s.index.Delete(rec)
		rec.Matrix = m
		rec.UseCount++
		rec.LastUsedAt = s.now()
		s.index.ReplaceOrInsert(rec)
	} else {
		rec = &Record{Key: key, Matrix: m, UseCount: 1, LastUsedAt: s.now()}
		s.records[keyStr] = rec
		s.index.ReplaceOrInsert(rec)
	}

	if s.file == nil {
		return errReadOnly
	}
	if err := writeRecord(s.file, rec); err != nil {
		s.log.Error("matrix store write failed, degrading to memory-only", "error", err)
		s.file.Close()
		s.file = nil
		return fmt.Errorf("append matrix record: %w", err)
	}
	return nil
}

// TopN returns up to n keys ordered by descending use count, most recent
// use breaking ties.
func (s *Store) TopN(n int) []affine.MatrixKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	keys := make([]affine.MatrixKey, 0, n)
	s.index.Ascend(func(rec *Record) bool {
		keys = append(keys, rec.Key)
		return len(keys) < n
	})
	return keys
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Compact writes only the live records to w, dropping superseded appends.
// Records stream in usage order; each call to visit reports progress.
func (s *Store) Compact(w io.Writer, visit func(*Record)) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := writeHeader(w); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	written := 0
	var werr error
	s.index.Ascend(func(rec *Record) bool {
		if werr = writeRecord(w, rec); werr != nil {
			return false
		}
		written++
		if visit != nil {
			visit(rec)
		}
		return true
	})
	if werr != nil {
		return written, fmt.Errorf("write record: %w", werr)
	}
	return written, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
