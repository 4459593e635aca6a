// Package offline keeps the last good reconciliation on disk so reads can
// fall back to it when the remote store or the device calendar is unreachable.
//
// Layout under the cache directory:
//
//	snapshots/YYYY-MM.json  events reconciled during that month
//	state.json              last SyncReport
//	pending.json            events saved locally whose remote write failed
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"calshare/internal/models"
)

const (
	snapshotDir = "snapshots"
	stateFile   = "state.json"
	pendingFile = "pending.json"
	monthLayout = "2006-01"
)

// Snapshot is one month bucket.
type Snapshot struct {
	Month   string          `json:"month"`
	SavedAt time.Time       `json:"savedAt"`
	Events  []*models.Event `json:"events"`
}

// Cache is a directory-backed offline cache. Safe for concurrent use within one process.
type Cache struct {
	mu  sync.Mutex
	dir string
}

// New creates a Cache rooted at dir.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, snapshotDir), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// MonthKey returns the bucket key for t.
func MonthKey(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

// Store replaces the bucket for month with events.
func (c *Cache) Store(month string, events []*models.Event, savedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Month: month, SavedAt: savedAt.UTC(), Events: events}
	return writeJSON(c.snapshotPath(month), snap)
}

// Load reads the bucket for month. A missing bucket returns fs.ErrNotExist.
func (c *Cache) Load(month string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snap Snapshot
	if err := readJSON(c.snapshotPath(month), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Events returns cached events overlapping w, newest bucket first on duplicates.
// It reports the SavedAt of the newest bucket consulted.
func (c *Cache) Events(w models.Window) ([]*models.Event, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(c.dir, snapshotDir))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read cache dir: %w", err)
	}
	var months []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		months = append(months, name[:len(name)-len(".json")])
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))

	seen := make(map[string]bool)
	var out []*models.Event
	var newest time.Time
	for _, month := range months {
		var snap Snapshot
		if err := readJSON(c.snapshotPath(month), &snap); err != nil {
			return nil, time.Time{}, err
		}
		if snap.SavedAt.After(newest) {
			newest = snap.SavedAt
		}
		for _, e := range snap.Events {
			if seen[e.ID] {
				continue
			}
			// The newest copy decides, even when it has moved out of w.
			seen[e.ID] = true
			if e.Overlaps(w.Start, w.End) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, newest, nil
}

// SaveReport persists the last sync report.
func (c *Cache) SaveReport(r *models.SyncReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSON(filepath.Join(c.dir, stateFile), r)
}

// LastReport loads the last sync report. A missing state file returns fs.ErrNotExist.
func (c *Cache) LastReport() (*models.SyncReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var r models.SyncReport
	if err := readJSON(filepath.Join(c.dir, stateFile), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Enqueue adds or replaces e in the pending queue.
func (c *Cache) Enqueue(e *models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, err := c.readPending()
	if err != nil {
		return err
	}
	replaced := false
	for i := range q {
		if q[i].ID == e.ID {
			q[i] = e
			replaced = true
		}
	}
	if !replaced {
		q = append(q, e)
	}
	return writeJSON(filepath.Join(c.dir, pendingFile), q)
}

// Pending lists queued events in insertion order.
func (c *Cache) Pending() ([]*models.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPending()
}

// Dequeue removes id from the queue and reports whether it was present.
func (c *Cache) Dequeue(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, err := c.readPending()
	if err != nil {
		return false, err
	}
	out := q[:0]
	found := false
	for _, e := range q {
		if e.ID == id {
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		return false, nil
	}
	return true, writeJSON(filepath.Join(c.dir, pendingFile), out)
}

func (c *Cache) readPending() ([]*models.Event, error) {
	var q []*models.Event
	if err := readJSON(filepath.Join(c.dir, pendingFile), &q); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return q, nil
}

func (c *Cache) snapshotPath(month string) string {
	return filepath.Join(c.dir, snapshotDir, month+".json")
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON writes atomically via a temp file in the same directory and a rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".calshare-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
