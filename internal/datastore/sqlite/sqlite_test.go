package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"gearboxd/internal/datastore"
)

const piu1 = "/gearbox:gearboxes/gearbox[name='piu1']"

// newTestBackend creates an in-memory SQLite backend for testing
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test backend: %v", err)
	}
	t.Cleanup(func() {
		b.Close()
	})
	return b
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNullToString(t *testing.T) {
	tests := []struct {
		name     string
		input    sql.NullString
		expected string
	}{
		{"valid string", sql.NullString{String: "test", Valid: true}, "test"},
		{"invalid string", sql.NullString{String: "test", Valid: false}, ""},
		{"empty valid string", sql.NullString{String: "", Valid: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nullToString(tt.input); got != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStoreAndLoad(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	conn := piu1 + "/connections/connection[client-interface='eth1'][line-interface='line1']"
	assertNoError(t, b.Store(ctx, []datastore.Change{
		{Path: piu1 + "/config/admin-status", Kind: datastore.Created, Value: "UP"},
		{Path: conn, Kind: datastore.Created},
		{Path: conn + "/config/client-interface", Kind: datastore.Created, Value: "eth1"},
		{Path: conn + "/config/line-interface", Kind: datastore.Created, Value: "line1"},
	}))

	tree, err := b.Load(ctx)
	assertNoError(t, err)
	if len(tree) != 3 {
		t.Fatalf("expected 3 leaves, got %d: %v", len(tree), tree)
	}
	if tree[piu1+"/config/admin-status"] != "UP" {
		t.Fatalf("admin-status not stored: %v", tree)
	}

	assertNoError(t, b.Store(ctx, []datastore.Change{
		{Path: piu1 + "/config/admin-status", Kind: datastore.Modified, Value: "DOWN"},
		{Path: conn, Kind: datastore.Deleted},
	}))

	tree, err = b.Load(ctx)
	assertNoError(t, err)
	if len(tree) != 1 || tree[piu1+"/config/admin-status"] != "DOWN" {
		t.Fatalf("unexpected tree after delete: %v", tree)
	}
}

func TestDeleteDoesNotMatchSiblingPrefix(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	piu10 := "/gearbox:gearboxes/gearbox[name='piu10']"
	assertNoError(t, b.Store(ctx, []datastore.Change{
		{Path: piu1 + "/config/admin-status", Kind: datastore.Created, Value: "UP"},
		{Path: piu10 + "/config/admin-status", Kind: datastore.Created, Value: "UP"},
	}))
	assertNoError(t, b.Store(ctx, []datastore.Change{{Path: piu1, Kind: datastore.Deleted}}))

	tree, err := b.Load(ctx)
	assertNoError(t, err)
	if _, ok := tree[piu10+"/config/admin-status"]; !ok || len(tree) != 1 {
		t.Fatalf("expected only piu10 to remain, got %v", tree)
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	assertNoError(t, b.Store(ctx, []datastore.Change{
		{Path: piu1 + "/config/admin-status", Kind: datastore.Created, Value: "UP"},
	}))
	assertNoError(t, b.Store(ctx, []datastore.Change{
		{Path: piu1 + "/config/admin-status", Kind: datastore.Deleted},
	}))

	history, err := b.History(ctx, 10)
	assertNoError(t, err)
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Kind != datastore.Deleted || history[1].Value != "UP" {
		t.Fatalf("unexpected history order: %+v", history)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "running.db")

	b, err := New(path)
	assertNoError(t, err)
	assertNoError(t, b.Store(ctx, []datastore.Change{
		{Path: piu1 + "/config/enable-flexible-connection", Kind: datastore.Created, Value: "true"},
	}))
	assertNoError(t, b.Close())

	b, err = New(path)
	assertNoError(t, err)
	defer b.Close()

	tree, err := b.Load(ctx)
	assertNoError(t, err)
	if !tree.Bool(piu1+"/config/enable-flexible-connection", false) {
		t.Fatalf("flag lost across reopen: %v", tree)
	}
}
