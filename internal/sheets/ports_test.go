package sheets

import (
	"context"
	"testing"
	"time"

	"stars/internal/core"
)

func TestRowFromTransaction(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	tests := []struct {
		name       string
		tx         core.StarTransaction
		childName  string
		wantAmount int64
		wantChild  string
	}{
		{
			name:       "earn keeps its sign",
			tx:         core.StarTransaction{ID: "t1", ChildID: "mia", Kind: core.KindEarn, Amount: 3, CreatedAt: at},
			childName:  "Mia",
			wantAmount: 3,
			wantChild:  "Mia",
		},
		{
			name:       "redeem is negative",
			tx:         core.StarTransaction{ID: "t2", ChildID: "mia", Kind: core.KindRedeem, Amount: 5, CreatedAt: at},
			childName:  "Mia",
			wantAmount: -5,
			wantChild:  "Mia",
		},
		{
			name:       "unknown child falls back to id",
			tx:         core.StarTransaction{ID: "t3", ChildID: "zoe", Kind: core.KindEarn, Amount: 1, CreatedAt: at},
			wantAmount: 1,
			wantChild:  "zoe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := RowFromTransaction(tt.tx, tt.childName)
			if row.Amount != tt.wantAmount || row.ChildName != tt.wantChild {
				t.Fatalf("row = %+v", row)
			}
			values := row.Values()
			if values[0] != "2026-05-02 07:00:00" {
				t.Errorf("date column = %v, want UTC timestamp", values[0])
			}
			if values[5] != tt.tx.ID {
				t.Errorf("transaction column = %v", values[5])
			}
		})
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ref, err := r.AppendLedgerRow(context.Background(), LedgerRow{TransactionID: "t1"})
	if err != nil || ref != "memory:t1" {
		t.Fatalf("AppendLedgerRow() = %q, %v", ref, err)
	}
	rows := r.Rows()
	rows[0].TransactionID = "changed"
	if r.Rows()[0].TransactionID != "t1" {
		t.Fatal("Rows must return a copy")
	}
}
