package tsa

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one timestamp operation.
type AuditEntry struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Result    string    `json:"result"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLog receives an entry for every timestamp operation. Production
// deployments supply an implementation backed by durable storage.
type AuditLog interface {
	Append(entry AuditEntry)
	Entries() []AuditEntry

	// Clear resets the log. Test and operations use only; must not run
	// concurrently with live validations.
	Clear()
}

// MemoryAuditLog is the default AuditLog, an append-only in-process list
// guarded by a mutex.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditLog returns an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (l *MemoryAuditLog) Append(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MemoryAuditLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (m *Manager) audit(operation, result string, err error) {
	if m.Audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Operation: operation,
		Result:    result,
		Success:   err == nil,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	m.Audit.Append(entry)
}
