// Package audit records the registry's append-only action log.
//
// Recording is best-effort: a failed audit write is reported through slog
// and never returned to the caller, so it cannot fail or roll back the
// operation it documents.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lecsachurch/registry/pkg/store"
)

// Action tags written by the registry.
const (
	ActionArchiveMember = "archive_member"
	ActionRestoreMember = "restore_member"
	ActionAddMember     = "add_member"
	ActionUpdateMember  = "update_member"
	ActionUpdateReceipt = "update_receipt"
	ActionAddBaptism    = "add_baptism"
	ActionUpdateBaptism = "update_baptism"
	ActionAddWedding    = "add_wedding"
	ActionUpdateWedding = "update_wedding"
	ActionRegisterUser  = "register_user"
	ActionSetRole       = "set_role"
	ActionExportLogs    = "export_action_logs"
)

// Event is one action log entry.
type Event struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent stamps an event with a fresh ID and the current UTC time.
func NewEvent(actorID, action string, details map[string]any) Event {
	if actorID == "" {
		actorID = "system"
	}
	return Event{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
}

// Recorder accepts audit events outside of any transaction.
type Recorder interface {
	Record(ctx context.Context, evt Event)
}

// TxRecorder records events inside a business transaction without ever
// failing it.
type TxRecorder interface {
	RecordTx(ctx context.Context, tx *store.Tx, evt Event)
}

// StreamLogger writes each event as an "AUDIT: {json}" line.
type StreamLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewStreamLogger creates a StreamLogger writing to w, or os.Stdout if w is nil.
func NewStreamLogger(w io.Writer) *StreamLogger {
	if w == nil {
		w = os.Stdout
	}
	return &StreamLogger{writer: w}
}

// Write emits evt. The error is returned for tests; Record drops it.
func (l *StreamLogger) Write(evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append(append([]byte("AUDIT: "), b...), '\n'))
	return err
}

func (l *StreamLogger) Record(_ context.Context, evt Event) {
	_ = l.Write(evt)
}
