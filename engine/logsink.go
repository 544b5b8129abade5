package engine

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// CSVEventLog is an append-only, run-tagged CSV sink for one event type
// (ticks, markers or BCD pulses). Every row carries the run UUID so log
// files from different manager instances can be concatenated without
// losing provenance. A write failure is logged once and the sink then
// swallows further writes rather than blocking or panicking the detector
// pipeline that feeds it.
type CSVEventLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	runID  string
	failed bool
	name   string
}

// csvLogVersion is the version tag written as the leading comment line of
// every new CSV event log, bumped whenever the column layout changes shape.
const csvLogVersion = 1

// NewCSVEventLog opens (or creates) path in append mode and, if the file is
// new, writes a leading version-tagged comment line followed by the header
// row.
func NewCSVEventLog(path, name, runID string, columns []string) (*CSVEventLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s log: %w", name, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("engine: stat %s log: %w", name, err)
	}

	w := csv.NewWriter(file)
	if stat.Size() == 0 {
		if _, err := fmt.Fprintf(file, "#version=%d\n", csvLogVersion); err != nil {
			file.Close()
			return nil, fmt.Errorf("engine: write %s log version line: %w", name, err)
		}
		header := append([]string{"run_id", "timestamp", "timestamp_ms"}, columns...)
		if err := w.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("engine: write %s log header: %w", name, err)
		}
		w.Flush()
	}

	return &CSVEventLog{file: file, writer: w, runID: runID, name: name}, nil
}

// WriteRow appends one record, prefixed with the run ID and a pair of
// human-readable and numeric-millisecond timestamps marking when the row
// was written.
func (l *CSVEventLog) WriteRow(fields []string) {
	if l == nil || l.failed {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	row := append([]string{l.runID, now.Format(time.RFC3339Nano), fmt.Sprintf("%d", now.UnixMilli())}, fields...)
	if err := l.writer.Write(row); err != nil {
		log.Printf("engine: %s log write failed, disabling sink: %v", l.name, err)
		l.failed = true
		return
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		log.Printf("engine: %s log flush failed, disabling sink: %v", l.name, err)
		l.failed = true
	}
}

// Close flushes and closes the underlying file.
func (l *CSVEventLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	return l.file.Close()
}

// JSONLineLog is an append-only JSON Lines sink, used for the sync
// detector's state stream where a fixed CSV column set doesn't fit the
// evolving FrameTime shape as naturally.
type JSONLineLog struct {
	mu     sync.Mutex
	file   *os.File
	runID  string
	failed bool
}

// jsonLogVersion is the version tag written as the leading marker record of
// every new JSON Lines log, bumped whenever the record shape changes.
const jsonLogVersion = 1

// NewJSONLineLog opens (or creates) path in append mode and, if the file is
// new, writes a leading version-tagged marker record.
func NewJSONLineLog(path, runID string) (*JSONLineLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("engine: open sync log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("engine: stat sync log: %w", err)
	}
	if stat.Size() == 0 {
		marker := struct {
			Version int `json:"version"`
		}{Version: jsonLogVersion}
		data, err := json.Marshal(marker)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("engine: marshal sync log version marker: %w", err)
		}
		data = append(data, '\n')
		if _, err := file.Write(data); err != nil {
			file.Close()
			return nil, fmt.Errorf("engine: write sync log version marker: %w", err)
		}
	}
	return &JSONLineLog{file: file, runID: runID}, nil
}

// WriteRecord marshals v to JSON and appends it as one line, wrapped with
// the run ID and both a human-readable and a numeric-millisecond
// wall-clock timestamp.
func (l *JSONLineLog) WriteRecord(v interface{}) {
	if l == nil || l.failed {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	record := struct {
		RunID       string      `json:"run_id"`
		Timestamp   string      `json:"timestamp"`
		TimestampMS int64       `json:"timestamp_ms"`
		Data        interface{} `json:"data"`
	}{RunID: l.runID, Timestamp: now.Format(time.RFC3339Nano), TimestampMS: now.UnixMilli(), Data: v}

	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("engine: sync log marshal failed, disabling sink: %v", err)
		l.failed = true
		return
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		log.Printf("engine: sync log write failed, disabling sink: %v", err)
		l.failed = true
	}
}

// Close closes the underlying file.
func (l *JSONLineLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
