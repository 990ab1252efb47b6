// Package sheets defines where exported ledger records are written.
package sheets

import (
	"context"
	"sync"
	"time"

	"stars/internal/core"
)

// LedgerRow is one ledger record as it appears in the spreadsheet. Amount
// is signed: redemptions are negative.
type LedgerRow struct {
	TransactionID string
	Date          time.Time
	FamilyID      string
	ChildID       string
	ChildName     string
	Kind          core.TransactionKind
	Amount        int64
	Description   string
}

// LedgerWriter appends a row and returns a reference to where it landed.
type LedgerWriter interface {
	AppendLedgerRow(ctx context.Context, row LedgerRow) (string, error)
}

// RowFromTransaction builds the row for t. childName may be empty when the
// child is unknown.
func RowFromTransaction(t core.StarTransaction, childName string) LedgerRow {
	amount := t.Amount
	if t.Kind == core.KindRedeem {
		amount = -amount
	}
	if childName == "" {
		childName = t.ChildID
	}
	return LedgerRow{
		TransactionID: t.ID,
		Date:          t.CreatedAt,
		FamilyID:      t.FamilyID,
		ChildID:       t.ChildID,
		ChildName:     childName,
		Kind:          t.Kind,
		Amount:        amount,
		Description:   t.Description,
	}
}

// Values renders the row in column order A..G:
// date, child, kind, amount, description, transaction id, family.
func (r LedgerRow) Values() []any {
	return []any{
		r.Date.UTC().Format("2006-01-02 15:04:05"),
		r.ChildName,
		string(r.Kind),
		r.Amount,
		r.Description,
		r.TransactionID,
		r.FamilyID,
	}
}

// Recorder keeps rows in memory. The worker uses it when no spreadsheet is
// configured.
type Recorder struct {
	mu   sync.Mutex
	rows []LedgerRow
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) AppendLedgerRow(_ context.Context, row LedgerRow) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return "memory:" + row.TransactionID, nil
}

// Rows returns a copy of everything appended so far.
func (r *Recorder) Rows() []LedgerRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LedgerRow(nil), r.rows...)
}
