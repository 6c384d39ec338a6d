package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/safego"
)

// Store persists audit rows. repositories.AuditRepository satisfies it.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes audit events to the database and any shippers. Writes run
// in the background and never fail the request that produced them.
type Recorder struct {
	store   Store
	shipper Shipper
	timeout time.Duration
	// async is false in tests so that Record completes before returning.
	async bool
}

// NewRecorder creates a recorder. Either argument may be nil.
func NewRecorder(store Store, shipper Shipper) *Recorder {
	return &Recorder{store: store, shipper: shipper, timeout: 5 * time.Second, async: true}
}

// Record stores entry.
func (r *Recorder) Record(entry *LogEntry) {
	if r == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if r.async {
		safego.Go("audit-write", func() { r.write(entry) })
		return
	}
	r.write(entry)
}

func (r *Recorder) write(entry *LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if r.store != nil {
		if err := r.store.CreateAuditLog(ctx, toModel(entry)); err != nil {
			slog.Error("failed to create audit log", "action", entry.Action, "error", err)
		}
	}
	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit log", "action", entry.Action, "error", err)
		}
	}
}

func toModel(e *LogEntry) *models.AuditLog {
	log := &models.AuditLog{
		Action:    e.Action,
		CreatedAt: e.Timestamp,
	}
	if e.UserID != "" {
		log.UserID = strPtr(e.UserID)
	}
	if e.ResourceType != "" {
		log.ResourceType = strPtr(e.ResourceType)
	}
	if e.ResourceID != "" {
		log.ResourceID = strPtr(e.ResourceID)
	}
	if e.IPAddress != "" {
		log.IPAddress = strPtr(e.IPAddress)
	}
	meta := make(map[string]interface{}, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if e.StatusCode != 0 {
		meta["status_code"] = e.StatusCode
	}
	if e.RequestID != "" {
		meta["request_id"] = e.RequestID
	}
	if len(meta) > 0 {
		log.Metadata = meta
	}
	return log
}

func strPtr(s string) *string { return &s }
