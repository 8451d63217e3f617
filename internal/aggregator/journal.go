package aggregator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one line of the aggregated journal: one (bucket, family,
// label-tuple) triple. Histograms carry Observations instead of Value.
type Record struct {
	TimestampNs     int64             `json:"timestamp_ns"`
	MetricName      string            `json:"metric_name"`
	MetricType      string            `json:"metric_type"`
	Labels          map[string]string `json:"labels"`
	Value           *float64          `json:"value,omitempty"`
	Observations    []float64         `json:"observations,omitempty"`
	IntervalSeconds int               `json:"interval_seconds"`
}

// JournalWriter appends Records as NDJSON to a directory, one file per
// day so retention can operate on whole files at a time.
type JournalWriter struct {
	mu  sync.Mutex
	dir string
}

// NewJournalWriter ensures dir exists and returns a writer rooted there.
func NewJournalWriter(dir string) (*JournalWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &JournalWriter{dir: dir}, nil
}

func (w *JournalWriter) pathFor(ts time.Time, resolution string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.jsonl", ts.UTC().Format("2006-01-02"), resolution))
}

// Append serializes rec and appends it to the day's resolution file,
// opening the file fresh for every write per the append-only contract.
func (w *JournalWriter) Append(rec Record, resolution string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.pathFor(time.Unix(0, rec.TimestampNs), resolution)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return nil
}

// ReadFile reads every Record out of an NDJSON file, skipping malformed
// lines (protocol-class errors, logged by the caller and discarded here).
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// WriteFile rewrites path as NDJSON containing exactly records, truncating
// any prior content. Used by retention when rebucketing into a new file.
func WriteFile(path string, records []Record) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}
