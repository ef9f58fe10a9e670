package state

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// auditRecord is the on-disk JSONL shape of one finished request, written
// to logs/requests.jsonl and replayed into usage rollups at startup.
type auditRecord struct {
	Service    string `json:"service"`
	ID         uint64 `json:"id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	SessionID  string `json:"session_id,omitempty"`
	Model      string `json:"model,omitempty"`
	ConfigName string `json:"config_name,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	EndedAtMs  int64  `json:"ended_at_ms"`
	Usage      *Usage `json:"usage,omitempty"`
}

func toAuditRecord(service string, fr FinishedRequest) auditRecord {
	return auditRecord{
		Service:    service,
		ID:         fr.ID,
		Method:     fr.Method,
		Path:       fr.Path,
		SessionID:  fr.SessionID,
		Model:      fr.Model,
		ConfigName: fr.ConfigName,
		ProviderID: fr.ProviderID,
		StatusCode: fr.StatusCode,
		DurationMs: fr.DurationMs,
		EndedAtMs:  fr.EndedAtMs,
		Usage:      fr.Usage,
	}
}

func (r auditRecord) toFinished() FinishedRequest {
	return FinishedRequest{
		ActiveRequest: ActiveRequest{
			ID:         r.ID,
			Service:    r.Service,
			Method:     r.Method,
			Path:       r.Path,
			SessionID:  r.SessionID,
			Model:      r.Model,
			ConfigName: r.ConfigName,
			ProviderID: r.ProviderID,
		},
		StatusCode: r.StatusCode,
		DurationMs: r.DurationMs,
		EndedAtMs:  r.EndedAtMs,
		Usage:      r.Usage,
	}
}

// AuditLog is a single append-only JSONL writer shared by all requests.
// Enqueue is non-blocking: under backpressure, new records are dropped
// rather than blocking the dispatcher, per the "lossy under backpressure is
// acceptable" requirement for the audit stream.
type AuditLog struct {
	logger  *slog.Logger
	ch      chan auditRecord
	closeWG sync.WaitGroup
}

// NewAuditLog opens path for appending and starts the background writer
// goroutine. If path is empty, the returned AuditLog discards everything
// (useful for tests and for a config that never set a log directory).
func NewAuditLog(path string, logger *slog.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AuditLog{logger: logger, ch: make(chan auditRecord, 1024)}
	if path == "" {
		a.closeWG.Add(1)
		go func() {
			defer a.closeWG.Done()
			for range a.ch {
			}
		}()
		return a, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)

	a.closeWG.Add(1)
	go func() {
		defer a.closeWG.Done()
		defer f.Close()
		defer w.Flush()
		for rec := range a.ch {
			line, err := json.Marshal(rec)
			if err != nil {
				a.logger.Warn("audit record marshal failed", "error", err)
				continue
			}
			line = append(line, '\n')
			if _, err := w.Write(line); err != nil {
				a.logger.Warn("audit record write failed", "error", err)
				continue
			}
			w.Flush()
		}
	}()
	return a, nil
}

// Append enqueues a finished request for writing; drops it silently if the
// writer is backed up.
func (a *AuditLog) Append(service string, fr FinishedRequest) {
	select {
	case a.ch <- toAuditRecord(service, fr):
	default:
		a.logger.Warn("audit log backpressure, dropping record", "request_id", fr.ID)
	}
}

// Close stops accepting new records and waits for the writer to flush.
func (a *AuditLog) Close() {
	close(a.ch)
	a.closeWG.Wait()
}

// ReplayAuditLog reads path line-by-line at startup and folds every
// record's usage into store's rollups, keyed by the service field each
// record carries. Missing files are not an error (first run).
func ReplayAuditLog(path string, store *Store) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec auditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		store.ReplayAuditUsage(rec.Service, rec.toFinished())
	}
	return scanner.Err()
}
