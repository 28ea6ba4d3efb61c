// Package export renders run artifacts for offline analysis: a
// JMeter-style CSV, an indented summary, and per-second timeline
// buckets.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"loadcast/internal/eventlog"
	"loadcast/internal/metrics"
)

var csvHeader = []string{
	"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
	"threadName", "success", "bytes", "URL", "Latency", "Error",
}

// WriteCSV renders records in a JMeter-compatible column layout.
// elapsed is milliseconds, Latency microseconds.
func WriteCSV(w io.Writer, records []metrics.ResponseRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range records {
		msg := "OK"
		if r.Failed() {
			msg = r.Error
		}
		row := []string{
			strconv.FormatInt(r.Timestamp.UnixMilli(), 10),
			strconv.FormatInt(int64(math.Round(r.ResponseTimeMs)), 10),
			"HTTP Request",
			strconv.Itoa(r.StatusCode),
			msg,
			r.UserID,
			strconv.FormatBool(!r.Failed()),
			strconv.FormatInt(r.SizeBytes, 10),
			r.TargetURI,
			strconv.FormatInt(int64(math.Round(r.ResponseTimeMs*1000)), 10),
			r.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSummary writes the final snapshot as indented JSON.
func WriteSummary(w io.Writer, snap metrics.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// TimeBucket aggregates one second of traffic.
type TimeBucket struct {
	Timestamp int64 `json:"timestamp"`
	Requests  int   `json:"requests"`
	Errors    int   `json:"errors"`
}

// WriteTimeline buckets records per second and writes the sorted series
// as indented JSON.
func WriteTimeline(w io.Writer, records []metrics.ResponseRecord) error {
	buckets := make(map[int64]*TimeBucket)
	for _, r := range records {
		ts := r.Timestamp.Unix()
		b, ok := buckets[ts]
		if !ok {
			b = &TimeBucket{Timestamp: ts}
			buckets[ts] = b
		}
		b.Requests++
		if r.Failed() {
			b.Errors++
		}
	}

	timeline := make([]TimeBucket, 0, len(buckets))
	for _, b := range buckets {
		timeline = append(timeline, *b)
	}
	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Timestamp < timeline[j].Timestamp
	})

	data, err := json.MarshalIndent(timeline, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// LoadResponses reads back the response stream an engine run left in an
// event directory.
func LoadResponses(dir string) ([]metrics.ResponseRecord, error) {
	f, err := os.Open(eventlog.ResponsesPath(dir))
	if err != nil {
		return nil, fmt.Errorf("open response stream: %w", err)
	}
	defer f.Close()

	var records []metrics.ResponseRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec metrics.ResponseRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode response event: %w", err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read response stream: %w", err)
	}
	return records, nil
}

// Save writes <prefix>.csv, <prefix>_summary.json and
// <prefix>_timeline.json.
func Save(prefix string, snap metrics.Snapshot, records []metrics.ResponseRecord) error {
	if prefix == "" {
		return nil
	}

	csvFile, err := os.Create(prefix + ".csv")
	if err != nil {
		return err
	}
	if err := WriteCSV(csvFile, records); err != nil {
		csvFile.Close()
		return err
	}
	if err := csvFile.Close(); err != nil {
		return err
	}

	summary, err := os.Create(prefix + "_summary.json")
	if err != nil {
		return err
	}
	if err := WriteSummary(summary, snap); err != nil {
		summary.Close()
		return err
	}
	if err := summary.Close(); err != nil {
		return err
	}

	timeline, err := os.Create(prefix + "_timeline.json")
	if err != nil {
		return err
	}
	if err := WriteTimeline(timeline, records); err != nil {
		timeline.Close()
		return err
	}
	return timeline.Close()
}
