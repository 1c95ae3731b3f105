package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bricksaw/warden/pkg/observability"
)

// Recorder appends entries to the log with the never-silent failure policy:
// a failed write is logged at error level and counted in
// warden_audit_write_failures_total, and the operation that triggered the
// entry is never rolled back on its account.
type Recorder struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRecorder creates a recorder. Logger and metrics may be nil; failures are
// still returned to the caller.
func NewRecorder(store *Store, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Record appends entry to the log. On failure the entry is dropped: the
// failure is surfaced through the logger and the failure counter and the
// error is returned, but callers running after a committed primary write are
// expected to discard it rather than compensate.
func (r *Recorder) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}

	if err := r.store.Insert(ctx, entry); err != nil {
		if r.logger != nil {
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"action":   entry.Action,
				"category": string(entry.Category),
				"actor":    entry.ActorUserID,
			}).Error("Audit write failed; primary operation stands")
		}
		if r.metrics != nil {
			r.metrics.AuditWriteFailuresTotal.Inc()
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.AuditEntriesWrittenTotal.WithLabelValues(string(entry.Category)).Inc()
	}

	return nil
}

// RecordTx appends entry inside the caller's transaction, for writes whose
// audit evidence must commit or roll back with the primary row. Unlike
// Record, a returned error here is meant to abort the transaction.
func (r *Recorder) RecordTx(ctx context.Context, tx *sql.Tx, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}

	if err := r.store.InsertTx(ctx, tx, entry); err != nil {
		if r.logger != nil {
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"action":   entry.Action,
				"category": string(entry.Category),
				"actor":    entry.ActorUserID,
			}).Error("Audit write failed; transaction will roll back")
		}
		if r.metrics != nil {
			r.metrics.AuditWriteFailuresTotal.Inc()
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.AuditEntriesWrittenTotal.WithLabelValues(string(entry.Category)).Inc()
	}

	return nil
}
