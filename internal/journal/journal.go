// Package journal provides the durable, append-only record store that
// makes caption runs resumable. Each processing attempt ends in exactly
// one journal line; replay reduces the file to a latest-status-per-item
// view that the scheduler uses to compute remaining work.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/models"
)

// Journal is a JSONL file of caption records. Appends are serialized by
// a mutex and fsynced before returning, so a record is either fully on
// stable storage or absent — never partially visible. Only the write is
// serialized; workers caption concurrently and queue on the lock for the
// few microseconds the line takes to land.
type Journal struct {
	path   string
	logger arbor.ILogger

	mu   sync.Mutex
	file *os.File
}

// New creates a journal bound to the given path. The file is opened
// lazily on first Append so read-only commands never create it.
func New(path string, logger arbor.ILogger) *Journal {
	return &Journal{
		path:   path,
		logger: logger,
	}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append durably persists one record. The record's timestamp is stamped
// here if unset. Safe for concurrent use.
func (j *Journal) Append(rec models.Record) error {
	if rec.ItemKey == "" {
		return fmt.Errorf("journal append: record has empty item_key")
	}
	if !rec.Status.IsValid() {
		return fmt.Errorf("journal append: unknown status %q", rec.Status)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal append: marshal record for %s: %w", rec.ItemKey, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		f, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("journal append: open %s: %w", j.path, err)
		}
		if err := terminatePartialTail(f); err != nil {
			f.Close()
			return fmt.Errorf("journal append: repair %s: %w", j.path, err)
		}
		j.file = f
	}

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("journal append: write %s: %w", rec.ItemKey, err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal append: sync %s: %w", j.path, err)
	}
	return nil
}

// terminatePartialTail closes off a partial trailing line left by a
// crash mid-write. Without the newline, the next append would merge onto
// the partial tail and the merged line would be discarded on replay,
// losing a record that Append had already fsynced.
func terminatePartialTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return err
	}
	return f.Sync()
}

// Truncate removes all existing records. Used only for full-reset runs.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal truncate: remove %s: %w", j.path, err)
	}
	return nil
}

// Close releases the underlying file handle. Safe to call when nothing
// was appended.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
