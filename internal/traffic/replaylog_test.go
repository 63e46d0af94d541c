package traffic

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLogRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLogWriter(&buf)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	records := []LogRecord{
		{FrameIndex: 0, Time: base, Detections: []Detection{carDet(100, 100, 60, 40, 0.9)}},
		{FrameIndex: 1, Time: base.Add(33 * time.Millisecond)},
		{FrameIndex: 2, Time: base.Add(66 * time.Millisecond), Detections: []Detection{
			carDet(110, 100, 60, 40, 0.85),
			personDet(400, 500, 0.7),
		}},
	}
	for _, rec := range records {
		if err := lw.Write(rec); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := lw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, err := ReadLog(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].FrameIndex != 0 || !got[0].Time.Equal(base) {
		t.Errorf("record 0 = %+v", got[0])
	}
	if len(got[2].Detections) != 2 {
		t.Fatalf("record 2 has %d detections, want 2", len(got[2].Detections))
	}
	det := got[2].Detections[1]
	if det.Class != ClassPerson || det.Confidence != 0.7 {
		t.Errorf("detection = %+v, want person at 0.7", det)
	}
	if det.BBox.Center().X != 400 {
		t.Errorf("center x = %f, want 400", det.BBox.Center().X)
	}
}

func TestReadLogSkipsBlankLines(t *testing.T) {
	input := `{"frame_index":0,"time":"2026-03-14T09:00:00Z","detections":null}

{"frame_index":1,"time":"2026-03-14T09:00:01Z","detections":null}
`
	got, err := ReadLog(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
}

func TestReadLogMalformedLine(t *testing.T) {
	input := `{"frame_index":0,"time":"2026-03-14T09:00:00Z","detections":null}
not json
`
	if _, err := ReadLog(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for malformed line")
	} else if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not name the offending line", err)
	}
}
