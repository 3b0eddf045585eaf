package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ternarybob/narro/internal/models"
)

// maxRecordSize bounds a single journal line. Captions are one or two
// sentences; anything near this limit is corruption, not data.
const maxRecordSize = 1 * 1024 * 1024

// LatestMap is the replay-derived view of the journal: each item's most
// recent record, later records overriding earlier ones for the same key.
// It is a pure function of journal content.
type LatestMap map[string]models.Record

// Replay reads the journal front-to-back and reduces it to a LatestMap.
// Malformed lines — including a partial trailing record left by a kill
// mid-write — are discarded and counted, never fatal: each append is
// atomic or absent. A missing file replays to an empty map.
func (j *Journal) Replay() (LatestMap, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return LatestMap{}, nil
		}
		return nil, fmt.Errorf("journal replay: open %s: %w", j.path, err)
	}
	defer f.Close()

	latest := LatestMap{}
	discarded := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, ok := decodeLine(line)
		if !ok {
			discarded++
			continue
		}
		latest[rec.ItemKey] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal replay: read %s: %w", j.path, err)
	}

	if discarded > 0 && j.logger != nil {
		j.logger.Warn().
			Int("discarded", discarded).
			Str("path", j.path).
			Msg("Discarded malformed journal line(s)")
	}
	return latest, nil
}

// decodeLine parses one journal line. Unknown JSON fields are ignored so
// the record schema can grow without breaking replay of old journals.
func decodeLine(line []byte) (models.Record, bool) {
	var rec models.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return models.Record{}, false
	}
	if rec.ItemKey == "" || !rec.Status.IsValid() {
		return models.Record{}, false
	}
	return rec, true
}

// StatusCounts returns the number of items per status in the map.
func (m LatestMap) StatusCounts() map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, rec := range m {
		counts[rec.Status]++
	}
	return counts
}

// SortedStatuses returns the statuses present in the map in stable
// lexical order, for deterministic reporting.
func (m LatestMap) SortedStatuses() []models.Status {
	counts := m.StatusCounts()
	statuses := make([]models.Status, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i] < statuses[k] })
	return statuses
}

// Summary describes already-processed work for startup logging.
func (m LatestMap) Summary() string {
	total := len(m)
	success := m.StatusCounts()[models.StatusSuccess]
	return fmt.Sprintf("Skipping %d already processed (%d success, %d errors)", total, success, total-success)
}
