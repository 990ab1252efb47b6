// Package storetest runs tests against every store backend.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stars/internal/core"
	"stars/internal/store"
	"stars/internal/store/memory"
	"stars/internal/store/sqlstore"
)

// Base is the instant Clock starts from.
var Base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// Each runs fn as a subtest against the memory store and a temp-dir SQLite
// store.
func Each(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		st := memory.New()
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, SQLite(t))
	})
}

// SQLite opens a fresh SQLite store closed at test cleanup.
func SQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stars.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Clock returns successive instants one minute apart, starting after Base.
func Clock() func() time.Time {
	var mu sync.Mutex
	at := Base
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Minute)
		return at
	}
}

// AddChild inserts a child directly into the store.
func AddChild(t *testing.T, st store.Store, familyID, id string) core.Child {
	t.Helper()
	c := core.Child{ID: id, FamilyID: familyID, Name: id, CreatedAt: Base}
	if err := st.Update(context.Background(), func(tx store.Tx) error {
		return tx.InsertChild(context.Background(), c)
	}); err != nil {
		t.Fatalf("add child %s: %v", id, err)
	}
	return c
}

// AddTemplate inserts an active template directly into the store.
func AddTemplate(t *testing.T, st store.Store, familyID, id string, category core.Category, stars int64) core.TaskTemplate {
	t.Helper()
	tmpl := core.TaskTemplate{
		ID: id, FamilyID: familyID, Name: id, Category: category, Stars: stars,
		Active: true, CreatedAt: Base, UpdatedAt: Base,
	}
	if err := st.Update(context.Background(), func(tx store.Tx) error {
		return tx.InsertTemplate(context.Background(), tmpl)
	}); err != nil {
		t.Fatalf("add template %s: %v", id, err)
	}
	return tmpl
}

// AddReward inserts an active reward directly into the store.
func AddReward(t *testing.T, st store.Store, familyID, id string, cost int64) core.Reward {
	t.Helper()
	r := core.Reward{ID: id, FamilyID: familyID, Name: id, Cost: cost, Active: true, CreatedAt: Base, UpdatedAt: Base}
	if err := st.Update(context.Background(), func(tx store.Tx) error {
		return tx.InsertReward(context.Background(), r)
	}); err != nil {
		t.Fatalf("add reward %s: %v", id, err)
	}
	return r
}
