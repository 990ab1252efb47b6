//go:build integration

package google

import (
	"context"
	"strings"
	"testing"
	"time"

	"stars/internal/config"
	"stars/internal/core"
	"stars/internal/sheets"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_AppendLedgerRow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	if !cfg.SheetsConfigured() {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := NewFromConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	rec := core.StarTransaction{
		ID:          "integration-" + time.Now().Format("20060102150405"),
		FamilyID:    "integration",
		ChildID:     "integration-child",
		Kind:        core.KindEarn,
		Amount:      1,
		Description: "Integration test row",
		CreatedAt:   time.Now(),
	}
	ref, err := c.AppendLedgerRow(ctx, sheets.RowFromTransaction(rec, "Integration"))
	if err != nil {
		t.Fatalf("AppendLedgerRow() error = %v", err)
	}
	if !strings.HasPrefix(ref, cfg.GoogleSheetName+"!A") {
		t.Errorf("unexpected ref %q", ref)
	}
	t.Logf("appended %s", ref)
}
