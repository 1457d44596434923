package fingerprint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/util"
)

const (
	snapshotName = "fingerprints.json"
	journalName  = "fingerprints.journal"
	storeVersion = 1
)

// MemoryStore keeps records in memory only.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load() error { return nil }

func (m *MemoryStore) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

func (m *MemoryStore) Commit(id string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = rec
	return nil
}

func (m *MemoryStore) Invalidate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) Flush() error { return nil }

func (m *MemoryStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Len returns the number of records held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// FileStore persists records as a JSON snapshot plus an append-only journal.
// Each Commit or Invalidate appends one fsynced journal line, so a crash can
// lose at most the line being written. Load replays the journal and compacts
// it into a fresh snapshot.
type FileStore struct {
	dir string

	mu      sync.Mutex
	records map[string]Record
	journal *os.File
}

type snapshot struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

type journalEntry struct {
	Op     string  `json:"op"`
	ID     string  `json:"id"`
	Record *Record `json:"record,omitempty"`
}

// NewFileStore creates a store rooted at dir. Call Load before use.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, records: make(map[string]Record)}
}

// Dir returns the directory holding the store files.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) snapshotPath() string { return filepath.Join(s.dir, snapshotName) }
func (s *FileStore) journalPath() string  { return filepath.Join(s.dir, journalName) }

func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("fingerprint: create store dir: %w", err)
	}

	s.records = make(map[string]Record)
	integrityErr := s.readSnapshot()
	if integrityErr == nil {
		integrityErr = s.replayJournal()
	}
	if integrityErr != nil {
		s.records = make(map[string]Record)
	}

	if err := s.compact(); err != nil {
		return err
	}
	return integrityErr
}

func (s *FileStore) readSnapshot() error {
	data, err := os.ReadFile(s.snapshotPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errs.Integrity("read snapshot", s.snapshotPath(), err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errs.Integrity("decode snapshot", s.snapshotPath(), err)
	}
	if snap.Version != storeVersion {
		return errs.Integrity("decode snapshot", s.snapshotPath(), fmt.Errorf("unsupported version %d", snap.Version))
	}
	for id, rec := range snap.Records {
		s.records[id] = rec
	}
	return nil
}

// replayJournal applies journal entries in order. A malformed final line is
// the remnant of a write interrupted by a crash and is dropped; a malformed
// line anywhere else means the journal cannot be trusted.
func (s *FileStore) replayJournal() error {
	data, err := os.ReadFile(s.journalPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errs.Integrity("read journal", s.journalPath(), err)
	}

	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	if err := scanner.Err(); err != nil {
		return errs.Integrity("read journal", s.journalPath(), err)
	}

	for i, line := range lines {
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.ID == "" {
			if i == len(lines)-1 {
				break
			}
			return errs.Integrity("decode journal", s.journalPath(), fmt.Errorf("line %d is malformed", i+1))
		}
		switch entry.Op {
		case "commit":
			if entry.Record == nil {
				return errs.Integrity("decode journal", s.journalPath(), fmt.Errorf("line %d has no record", i+1))
			}
			s.records[entry.ID] = *entry.Record
		case "invalidate":
			delete(s.records, entry.ID)
		default:
			return errs.Integrity("decode journal", s.journalPath(), fmt.Errorf("line %d has unknown op %q", i+1, entry.Op))
		}
	}
	return nil
}

// compact writes the snapshot and truncates the journal. Caller holds mu.
func (s *FileStore) compact() error {
	if err := util.WriteJSON(s.snapshotPath(), snapshot{Version: storeVersion, Records: s.records}); err != nil {
		return fmt.Errorf("fingerprint: write snapshot: %w", err)
	}
	if s.journal != nil {
		_ = s.journal.Close()
		s.journal = nil
	}
	f, err := os.OpenFile(s.journalPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fingerprint: open journal: %w", err)
	}
	s.journal = f
	return nil
}

func (s *FileStore) append(entry journalEntry) error {
	if s.journal == nil {
		return fmt.Errorf("fingerprint: store not loaded")
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.journal.Write(line); err != nil {
		return fmt.Errorf("fingerprint: append journal: %w", err)
	}
	return s.journal.Sync()
}

func (s *FileStore) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *FileStore) Commit(id string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(journalEntry{Op: "commit", ID: id, Record: &rec}); err != nil {
		return err
	}
	s.records[id] = rec
	return nil
}

func (s *FileStore) Invalidate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(journalEntry{Op: "invalidate", ID: id}); err != nil {
		return err
	}
	delete(s.records, id)
	return nil
}

func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compact()
}

// Reset deletes the persisted files and clears memory.
func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal != nil {
		_ = s.journal.Close()
		s.journal = nil
	}
	s.records = make(map[string]Record)
	for _, path := range []string{s.snapshotPath(), s.journalPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("fingerprint: remove %s: %w", path, err)
		}
	}
	return nil
}

// Close compacts the journal and releases the file handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compact()
	if s.journal != nil {
		_ = s.journal.Close()
		s.journal = nil
	}
	return err
}

// Len returns the number of records held.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
