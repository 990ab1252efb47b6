package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useSQLite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(dir, "stars.db"))
	t.Setenv("AMQP_URL", "")
	t.Setenv("REPORT_TIMEZONE", "UTC")
	return dir
}

const seedTOML = `
[[children]]
id = "ava"
family_id = "home"
name = "Ava"

[[templates]]
id = "bed"
family_id = "home"
name = "Make the bed"
category = "chore"
stars = 1
`

func TestMigrateSeedAndQuery(t *testing.T) {
	dir := useSQLite(t)
	seedFile := filepath.Join(dir, "seed.toml")
	if err := os.WriteFile(seedFile, []byte(seedTOML), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Seeding is repeatable.
	for i := 0; i < 2; i++ {
		if _, err := execute(t, "seed", "--file", seedFile); err != nil {
			t.Fatalf("seed #%d: %v", i+1, err)
		}
	}

	out, err := execute(t, "balance", "ava")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	var bal struct {
		ChildID string `json:"child_id"`
		Balance int64  `json:"balance"`
	}
	if err := json.Unmarshal([]byte(out), &bal); err != nil {
		t.Fatalf("decode balance %q: %v", out, err)
	}
	if bal.ChildID != "ava" || bal.Balance != 0 {
		t.Errorf("balance = %+v, want ava/0", bal)
	}

	out, err = execute(t, "report", "weekly", "ava", "--start", "2025-03-10")
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	var rep struct {
		ChildID string    `json:"child_id"`
		From    time.Time `json:"from"`
		To      time.Time `json:"to"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report %q: %v", out, err)
	}
	if got := rep.To.Sub(rep.From); got != 7*24*time.Hour {
		t.Errorf("weekly span = %v, want 7 days", got)
	}

	if _, err := execute(t, "balance", "nobody"); err == nil {
		t.Error("balance of unknown child succeeded")
	}
}

func TestDurableCommandsRejectMemory(t *testing.T) {
	t.Setenv("DATA_BACKEND", "memory")
	for _, cmd := range []string{"migrate", "seed"} {
		if _, err := execute(t, cmd); !errors.Is(err, errNotDurable) {
			t.Errorf("%s on memory: err = %v, want errNotDurable", cmd, err)
		}
	}
}

func TestHistoryRejectsInvertedRange(t *testing.T) {
	useSQLite(t)
	_, err := execute(t, "history", "ava", "--from", "2025-03-11", "--to", "2025-03-10")
	if err == nil {
		t.Fatal("expected error for --to before --from")
	}
	// Reset for later tests sharing the command.
	_ = historyCmd.Flags().Set("from", "")
	_ = historyCmd.Flags().Set("to", "")
}

func TestParseTime(t *testing.T) {
	useSQLite(t)
	if _, err := execute(t, "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "2025-03-10", want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{in: "2025-03-10T08:30:00Z", want: time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)},
		{in: "10/03/2025", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseTime("from", tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTime(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCallbackHandler(t *testing.T) {
	codes := make(chan string, 1)
	h := callbackHandler("s1", codes)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{name: "provider error", query: "error=access_denied", status: http.StatusBadRequest},
		{name: "wrong state", query: "state=other&code=abc", status: http.StatusBadRequest},
		{name: "missing code", query: "state=s1", status: http.StatusBadRequest},
		{name: "accepted", query: "state=s1&code=abc", status: http.StatusOK},
		{name: "second code", query: "state=s1&code=def", status: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	if got := <-codes; got != "abc" {
		t.Errorf("code = %q, want abc", got)
	}
}

func TestSaveToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
	if err := saveToken(path, tok); err != nil {
		t.Fatalf("saveToken: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %v, want 0600", perm)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got oauth2.Token
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.RefreshToken != "r" {
		t.Errorf("refresh token = %q, want r", got.RefreshToken)
	}
}
