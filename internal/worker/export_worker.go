// Package worker exports committed ledger records to the family spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stars/internal/amqp"
	"stars/internal/core"
	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/sheets"
	"stars/internal/store"
)

// ExportWorker appends ledger records to a LedgerWriter and records each
// export in the tracker. Exporting never touches the ledger itself.
type ExportWorker struct {
	store     store.Store
	tracker   store.ExportTracker
	writer    sheets.LedgerWriter
	batchSize int
	now       func() time.Time
	logger    *log.Logger
}

func NewExportWorker(st store.Store, tracker store.ExportTracker, writer sheets.LedgerWriter, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ExportWorker{
		store:     st,
		tracker:   tracker,
		writer:    writer,
		batchSize: batchSize,
		now:       time.Now,
		logger:    log.ForComponent(log.ComponentWorker),
	}
}

// HandleExportMessage exports the record named by msg. Records already
// exported are skipped, so redelivered messages are harmless.
func (w *ExportWorker) HandleExportMessage(ctx context.Context, msg *amqp.LedgerExportMessage) error {
	w.logger.DebugContext(ctx, "Processing export message", log.FieldTransactionID, msg.TransactionID)

	done, err := w.tracker.Exported(ctx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("check export state: %w", err)
	}
	if done {
		metrics.Exports.WithLabelValues("skipped").Inc()
		w.logger.DebugContext(ctx, "Ledger record already exported", log.FieldTransactionID, msg.TransactionID)
		return nil
	}

	var (
		rec  core.StarTransaction
		name string
	)
	err = w.store.View(ctx, func(tx store.Tx) error {
		var err error
		if rec, err = tx.GetTransaction(ctx, msg.TransactionID); err != nil {
			return err
		}
		name = childName(ctx, tx, rec.ChildID)
		return nil
	})
	if errors.Is(err, core.ErrNotFound) {
		// Requeueing cannot help: the record is not in this store.
		metrics.Exports.WithLabelValues("failed").Inc()
		w.logger.WarnContext(ctx, "Export message for unknown ledger record dropped",
			log.FieldTransactionID, msg.TransactionID, log.FieldFamilyID, msg.FamilyID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ledger record: %w", err)
	}

	return w.export(ctx, rec, name)
}

// ProcessPending exports one batch of records the tracker has not seen.
// It backs up the message path when messages are lost.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	exported, failed, err := w.exportPending(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if exported+failed > 0 {
		w.logger.InfoContext(ctx, "Processed pending ledger exports", "exported", exported, "errors", failed)
	}
	return nil
}

// StartupCheck runs a larger sweep once when the worker starts, to catch
// up on anything missed while it was down.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	exported, failed, err := w.exportPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup export check: %w", err)
	}
	if exported+failed == 0 {
		w.logger.InfoContext(ctx, "No pending ledger exports found on startup")
		return nil
	}
	w.logger.InfoContext(ctx, "Startup export completed",
		"total", exported+failed, "exported", exported, "errors", failed)
	return nil
}

// Run sweeps every interval until ctx is done.
func (w *ExportWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Periodic export failed", log.FieldError, err)
			}
		}
	}
}

func (w *ExportWorker) exportPending(ctx context.Context, limit int) (exported, failed int, err error) {
	pending, err := w.tracker.PendingExports(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending exports: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	names := map[string]string{}
	err = w.store.View(ctx, func(tx store.Tx) error {
		for _, rec := range pending {
			if _, ok := names[rec.ChildID]; !ok {
				names[rec.ChildID] = childName(ctx, tx, rec.ChildID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("load children: %w", err)
	}

	for _, rec := range pending {
		if err := w.export(ctx, rec, names[rec.ChildID]); err != nil {
			w.logger.ErrorContext(ctx, "Failed to export ledger record",
				log.FieldTransactionID, rec.ID, log.FieldOperation, log.OpExport, log.FieldError, err)
			failed++
			continue
		}
		exported++
	}
	return exported, failed, nil
}

func (w *ExportWorker) export(ctx context.Context, rec core.StarTransaction, name string) error {
	ref, err := w.writer.AppendLedgerRow(ctx, sheets.RowFromTransaction(rec, name))
	if err != nil {
		metrics.Exports.WithLabelValues("failed").Inc()
		return fmt.Errorf("append ledger row: %w", err)
	}
	if err := w.tracker.MarkExported(ctx, rec.ID, w.now().UTC()); err != nil {
		// The row is written but not recorded; the next sweep writes it again.
		metrics.Exports.WithLabelValues("failed").Inc()
		return fmt.Errorf("mark exported: %w", err)
	}
	metrics.Exports.WithLabelValues("exported").Inc()
	w.logger.InfoContext(ctx, "Ledger record exported",
		log.FieldTransactionID, rec.ID,
		log.FieldChildID, rec.ChildID,
		log.FieldKind, string(rec.Kind),
		log.FieldStars, rec.Amount,
		log.FieldSheetsRef, ref)
	return nil
}

// childName returns the child's display name, or "" when it cannot be read.
func childName(ctx context.Context, tx store.Tx, childID string) string {
	c, err := tx.GetChild(ctx, childID)
	if err != nil {
		return ""
	}
	return c.Name
}
