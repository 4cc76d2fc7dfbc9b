package delivery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"vigilarium/internal/domain"
)

// SpoolEntry is one undelivered batch, persisted as a single JSON
// line.
type SpoolEntry struct {
	ClientID     string               `json:"client_id"`
	Observations []domain.Observation `json:"observations"`
}

// Spool is a durable append-only holding file for batches that could
// not be delivered. Entries survive sensor restarts and are retried
// in order on the next delivery attempt. A single mutex serializes
// all writers.
type Spool struct {
	path string
	mu   sync.Mutex
}

// NewSpool creates a spool backed by the given jsonl file
func NewSpool(path string) *Spool {
	return &Spool{path: path}
}

// Append persists one batch to the end of the spool
func (s *Spool) Append(entry SpoolEntry) error {
	if entry.ClientID == "" {
		return fmt.Errorf("spool entry has no client_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode spool entry: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to spool: %w", err)
	}
	return f.Sync()
}

// FlushOutcome reports what a flush attempt did with one entry
type FlushOutcome int

const (
	// FlushDelivered means the entry was accepted and leaves the spool
	FlushDelivered FlushOutcome = iota
	// FlushRetry means the entry is still undeliverable; it stays, and
	// the entries behind it stay untried to preserve order
	FlushRetry
	// FlushDiscard means the entry was permanently rejected and leaves
	// the spool undelivered
	FlushDiscard
)

// Flush walks pending entries oldest first, calling attempt for each.
// Entries stay on disk throughout; only after every attempt finishes
// is the file rewritten with the survivors, so a crash mid-flush can
// replay a batch but never lose one. The first FlushRetry keeps the
// remaining entries untried. Returns how many entries were delivered
// and how many remain spooled.
func (s *Spool) Flush(attempt func(SpoolEntry) FlushOutcome) (delivered, kept int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return 0, 0, err
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	var survivors []SpoolEntry
	stopped := false
	for _, entry := range entries {
		if stopped {
			survivors = append(survivors, entry)
			continue
		}
		switch attempt(entry) {
		case FlushDelivered:
			delivered++
		case FlushDiscard:
		case FlushRetry:
			survivors = append(survivors, entry)
			stopped = true
		}
	}

	if len(survivors) == len(entries) {
		return 0, len(survivors), nil
	}
	if err := s.rewrite(survivors); err != nil {
		return delivered, len(survivors), fmt.Errorf("rewrite spool after flush: %w", err)
	}
	return delivered, len(survivors), nil
}

// Len reports how many batches are pending
func (s *Spool) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *Spool) read() ([]SpoolEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	var entries []SpoolEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry SpoolEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Printf("dropping corrupt spool line: %v", err)
			continue
		}
		if entry.ClientID == "" {
			log.Printf("dropping spool entry without client_id (%d observations)", len(entry.Observations))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read spool: %w", err)
	}
	return entries, nil
}

// rewrite atomically replaces the spool contents via temp file and
// rename so a crash mid-write never loses the previous state.
func (s *Spool) rewrite(entries []SpoolEntry) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".spool-*")
	if err != nil {
		return fmt.Errorf("create temp spool: %w", err)
	}
	defer os.Remove(tmp.Name())

	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encode spool entry: %w", err)
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp spool: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp spool: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp spool: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace spool: %w", err)
	}
	return nil
}
