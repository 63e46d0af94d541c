package traffic

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// LogRecord is one frame of detector output in a detection log. Logs are
// JSON lines so a partial file from an interrupted run stays readable.
type LogRecord struct {
	FrameIndex int64       `json:"frame_index"`
	Time       time.Time   `json:"time"`
	Detections []Detection `json:"detections"`
}

// LogWriter appends frame records to a detection log stream.
type LogWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewLogWriter wraps w for record writing.
func NewLogWriter(w io.Writer) *LogWriter {
	bw := bufio.NewWriter(w)
	return &LogWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one record.
func (lw *LogWriter) Write(rec LogRecord) error {
	if err := lw.enc.Encode(rec); err != nil {
		return fmt.Errorf("write log record: %w", err)
	}
	return nil
}

// Flush flushes buffered records to the underlying writer.
func (lw *LogWriter) Flush() error {
	return lw.w.Flush()
}

// ReadLog reads every record from a detection log. Blank lines are skipped;
// a malformed line fails the whole read, since logs are produced by this
// module and a parse failure means corruption, not dirty input.
func ReadLog(r io.Reader) ([]LogRecord, error) {
	var records []LogRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec LogRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parse log line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return records, nil
}
