package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"stars/internal/config"
	"stars/internal/core"
	"stars/internal/sheets"
)

const clientJSON = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret",` +
	`"redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth",` +
	`"token_uri":"https://oauth2.googleapis.com/token"}}`

func TestNewFromConfig_MissingSpreadsheetID(t *testing.T) {
	_, err := NewFromConfig(context.Background(), &config.Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewSheetsService_Credentials(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(tokenFile, []byte(`{"access_token":"test","token_type":"Bearer"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{
			name:    "missing client",
			creds:   Credentials{TokenJSON: `{"access_token":"test"}`},
			wantErr: "missing OAuth client credentials",
		},
		{
			name:    "invalid client json",
			creds:   Credentials{ClientJSON: "invalid-json", TokenJSON: `{"access_token":"test"}`},
			wantErr: "oauth config",
		},
		{
			name:    "unreadable client file",
			creds:   Credentials{ClientFile: filepath.Join(t.TempDir(), "absent.json")},
			wantErr: "read OAuth client file",
		},
		{
			name:    "missing token",
			creds:   Credentials{ClientJSON: clientJSON},
			wantErr: "missing OAuth token credentials",
		},
		{
			name:    "invalid token json",
			creds:   Credentials{ClientJSON: clientJSON, TokenJSON: "not json"},
			wantErr: "parse oauth token",
		},
		{
			name:  "inline client and token file",
			creds: Credentials{ClientJSON: clientJSON, TokenFile: tokenFile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := newSheetsService(context.Background(), tt.creds)
			if tt.wantErr == "" {
				if err != nil || svc == nil {
					t.Fatalf("newSheetsService() = %v, %v", svc, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAppendLedgerRow_NotInitialized(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if _, err := c.AppendLedgerRow(context.Background(), sheets.LedgerRow{TransactionID: "tx"}); err == nil {
		t.Fatal("expected an error without a service")
	}
}

// fakeSheetsAPI answers the two calls AppendLedgerRow makes.
type fakeSheetsAPI struct {
	mu       sync.Mutex
	existing int
	updates  map[string][][]any
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/v4/spreadsheets/sheet-1/values/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rng := strings.TrimPrefix(r.URL.Path, prefix)

	switch r.Method {
	case http.MethodGet:
		values := make([][]any, f.existing)
		for i := range values {
			values[i] = []any{"row"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": values})
	case http.MethodPut:
		var vr struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.updates[rng] = vr.Values
		f.existing++
		_ = json.NewEncoder(w).Encode(map[string]any{"updatedRange": rng, "updatedRows": 1})
	default:
		http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
	}
}

func TestAppendLedgerRow_WritesNextRow(t *testing.T) {
	api := &fakeSheetsAPI{existing: 3, updates: map[string][][]any{}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	ctx := context.Background()
	svc, err := gsheet.NewService(ctx, goption.WithEndpoint(srv.URL+"/"), goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	c := New(svc, "sheet-1", "")

	rec := core.StarTransaction{
		ID:          "tx-1",
		FamilyID:    "fam",
		ChildID:     "mia",
		Kind:        core.KindRedeem,
		Amount:      5,
		Description: "Redeemed: Ice cream",
		CreatedAt:   time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC),
	}
	ref, err := c.AppendLedgerRow(ctx, sheets.RowFromTransaction(rec, "Mia"))
	if err != nil {
		t.Fatalf("AppendLedgerRow() error = %v", err)
	}
	if ref != "Ledger!A4:G4" {
		t.Fatalf("ref = %q, want Ledger!A4:G4", ref)
	}

	row := api.updates["Ledger!A4:G4"]
	if len(row) != 1 || len(row[0]) != 7 {
		t.Fatalf("unexpected update %v", api.updates)
	}
	want := []any{"2026-03-01 17:30:00", "Mia", "redeem", float64(-5), "Redeemed: Ice cream", "tx-1", "fam"}
	for i, v := range want {
		if row[0][i] != v {
			t.Errorf("column %d = %v (%T), want %v", i, row[0][i], row[0][i], v)
		}
	}

	if ref, err := c.AppendLedgerRow(ctx, sheets.RowFromTransaction(rec, "Mia")); err != nil || ref != "Ledger!A5:G5" {
		t.Fatalf("second append = %q, %v", ref, err)
	}
}
