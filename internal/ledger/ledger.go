// Package ledger keeps the session's deduplicated plate readings.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"anpr-pipeline/internal/domain/anpr"
)

var csvHeader = []string{"Date", "Time", "Plate Number", "Confidence"}

// Ledger is an append-only list of readings with a membership index on the
// plate text. Entries are never removed.
//
// IsNovel followed by Record is not atomic; the frame loop is the only
// writer and runs one tick at a time. The lock exists so that dashboard
// readers can take snapshots concurrently.
type Ledger struct {
	mu       sync.RWMutex
	readings []anpr.PlateReading
	index    map[string]int
}

func New() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// IsNovel reports whether text is non-empty and not yet recorded.
func (l *Ledger) IsNovel(text string) bool {
	if text == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, seen := l.index[text]
	return !seen
}

// Record appends r. Callers check IsNovel first.
func (l *Ledger) Record(r anpr.PlateReading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.index[r.Plate]; !seen {
		l.index[r.Plate] = len(l.readings)
	}
	l.readings = append(l.readings, r)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.readings)
}

// MeanConfidence is the mean of all confidences rounded to 2 decimals, 0 when empty.
func (l *Ledger) MeanConfidence() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meanLocked()
}

func (l *Ledger) meanLocked() float64 {
	if len(l.readings) == 0 {
		return 0
	}
	values := make([]float64, len(l.readings))
	for i, r := range l.readings {
		values[i] = r.Confidence
	}
	return anpr.Round2(stat.Mean(values, nil))
}

func (l *Ledger) Stats() anpr.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return anpr.Stats{Total: len(l.readings), AvgConfidence: l.meanLocked()}
}

// Readings returns a copy in recording order.
func (l *Ledger) Readings() []anpr.PlateReading {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]anpr.PlateReading, len(l.readings))
	copy(out, l.readings)
	return out
}

// Search returns readings where any displayed column contains query,
// ignoring case. An empty query matches everything.
func (l *Ledger) Search(query string) []anpr.PlateReading {
	q := strings.ToLower(strings.TrimSpace(query))
	all := l.Readings()
	if q == "" {
		return all
	}
	out := make([]anpr.PlateReading, 0, len(all))
	for _, r := range all {
		for _, col := range row(r) {
			if strings.Contains(strings.ToLower(col), q) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// WriteCSV exports every reading under the Date,Time,Plate Number,Confidence header.
func (l *Ledger) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range l.Readings() {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.Plate, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatConfidence renders a percentage the way the log table shows it, e.g. "91.5%".
func FormatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64) + "%"
}

func row(r anpr.PlateReading) []string {
	return []string{r.Date, r.Time, r.Plate, FormatConfidence(r.Confidence)}
}
