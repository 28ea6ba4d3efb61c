// Package eventlog persists the raw event streams of one run as
// line-delimited JSON, one directory per run.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"loadcast/internal/metrics"
)

const (
	responsesFile = "responses.ndjson"
	resourcesFile = "resources.ndjson"
	summaryFile   = "summary.json"
)

// Log appends one run's response and resource events. Both streams are
// concurrent-writer safe; write errors are logged and swallowed so disk
// trouble never ends a run.
type Log struct {
	dir    string
	logger *zap.Logger

	respMu  sync.Mutex
	resp    *os.File
	respEnc *json.Encoder

	resMu  sync.Mutex
	res    *os.File
	resEnc *json.Encoder
}

// Open creates <root>/<runID>/ and the two stream files.
func Open(root, runID string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event dir: %w", err)
	}

	resp, err := os.Create(filepath.Join(dir, responsesFile))
	if err != nil {
		return nil, fmt.Errorf("create response stream: %w", err)
	}
	res, err := os.Create(filepath.Join(dir, resourcesFile))
	if err != nil {
		resp.Close()
		return nil, fmt.Errorf("create resource stream: %w", err)
	}

	return &Log{
		dir:     dir,
		logger:  logger,
		resp:    resp,
		respEnc: json.NewEncoder(resp),
		res:     res,
		resEnc:  json.NewEncoder(res),
	}, nil
}

// Dir is the run's event directory.
func (l *Log) Dir() string { return l.dir }

// ResponsesPath locates the response stream inside a run directory.
func ResponsesPath(dir string) string { return filepath.Join(dir, responsesFile) }

// Response appends one response record.
func (l *Log) Response(rec metrics.ResponseRecord) {
	l.respMu.Lock()
	err := l.respEnc.Encode(rec)
	l.respMu.Unlock()
	if err != nil {
		l.logger.Warn("response event write failed", zap.Error(err))
	}
}

// Resource appends one resource sample.
func (l *Log) Resource(s metrics.ResourceSample) {
	l.resMu.Lock()
	err := l.resEnc.Encode(s)
	l.resMu.Unlock()
	if err != nil {
		l.logger.Warn("resource event write failed", zap.Error(err))
	}
}

// WriteSummary writes the final snapshot next to the streams.
func (l *Log) WriteSummary(snap metrics.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, summaryFile), data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Close flushes and closes both streams.
func (l *Log) Close() error {
	l.respMu.Lock()
	respErr := l.resp.Close()
	l.respMu.Unlock()

	l.resMu.Lock()
	resErr := l.res.Close()
	l.resMu.Unlock()

	if respErr != nil {
		return respErr
	}
	return resErr
}
