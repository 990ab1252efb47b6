package amqp

import (
	"context"
	"fmt"

	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/store"
)

// Relay forwards every committed ledger record to a Publisher. A failed
// publish is only logged: the export worker's sweep picks up anything the
// broker never saw.
type Relay struct {
	store     store.Store
	publisher Publisher
	logger    *log.Logger
}

func NewRelay(st store.Store, p Publisher) *Relay {
	return &Relay{store: st, publisher: p, logger: log.ForComponent(log.ComponentAMQP)}
}

// Start subscribes and relays in the background until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	changes, err := r.store.Subscribe(ctx, store.Filter{Entities: []store.Entity{store.EntityTransaction}})
	if err != nil {
		return fmt.Errorf("subscribe ledger changes: %w", err)
	}
	go func() {
		for c := range changes {
			r.forward(ctx, c)
		}
	}()
	r.logger.InfoContext(ctx, "Ledger relay started")
	return nil
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (r *Relay) forward(ctx context.Context, c store.Change) {
	if c.Op == store.OpResync {
		r.logger.WarnContext(ctx, "Relay fell behind, missed ledger records are left to the export sweep")
		return
	}
	if c.Op != store.OpCreate {
		return
	}
	msg := NewLedgerExportMessage(c.ID, c.FamilyID, c.ChildID)
	if err := r.publisher.PublishLedgerExport(ctx, msg); err != nil {
		metrics.RelayPublished.WithLabelValues("failed").Inc()
		r.logger.WarnContext(ctx, "Failed to relay ledger record",
			log.FieldTransactionID, c.ID, log.FieldError, err)
		return
	}
	metrics.RelayPublished.WithLabelValues("published").Inc()
}
