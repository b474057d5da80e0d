package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/briefroom/scribe-gateway/internal/orchestrator"
)

// AuditLog appends one JSON line per completed meeting to a local file.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (a *AuditLog) Name() string { return "audit_log" }

// Dispatch appends the outcome as a single JSONL record. Workers share
// one dispatcher, so writes are serialized to keep lines whole.
func (a *AuditLog) Dispatch(ctx context.Context, outcome orchestrator.Outcome) error {
	line, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open meeting log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append meeting log: %w", err)
	}
	return nil
}
