package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// newTestStore opens a journal in a temp directory for isolation.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".taskloom", DefaultFile))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Open ---

func TestOpen_EnablesWAL(t *testing.T) {
	s := newTestStore(t)
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_ReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Record(context.Background(), Event{Kind: KindTaskAdded, Subject: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	events, err := s.Recent(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events after reopen, want 1", len(events))
	}
}

func TestOpen_DriverFailure(t *testing.T) {
	orig := openDB
	openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") }
	defer func() { openDB = orig }()

	_, err := Open(filepath.Join(t.TempDir(), DefaultFile))
	if err == nil || !strings.Contains(err.Error(), "no driver") {
		t.Fatalf("Open error = %v, want driver failure", err)
	}
}

// --- Record / Recent ---

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 4, 5, 6, 7, 8, 9000, time.UTC)
	s.now = func() time.Time { return at }
	ctx := context.Background()

	id, err := s.Record(ctx, Event{
		Kind:    KindSubtaskRemoved,
		Subject: "3.2",
		Summary: "removed subtask 3.2",
		Data:    map[string]any{"rewrites": []any{"4: 3.3 -> 3.2"}, "count": 1},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id <= 0 {
		t.Errorf("id = %d", id)
	}

	events, err := s.Recent(ctx, Query{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []Event{{
		ID:        id,
		Kind:      KindSubtaskRemoved,
		Subject:   "3.2",
		Summary:   "removed subtask 3.2",
		Data:      map[string]any{"rewrites": []any{"4: 3.3 -> 3.2"}, "count": float64(1)},
		CreatedAt: at,
	}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}
}

func TestRecent_NewestFirstWithFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	record := []Event{
		{Kind: KindTaskAdded, Subject: "1"},
		{Kind: KindResourceCreated, Subject: "brief://a"},
		{Kind: KindTaskAdded, Subject: "2"},
		{Kind: KindTaskStatus, Subject: "1"},
	}
	for _, e := range record {
		if _, err := s.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"all", Query{}, []string{"task_status:1", "task_added:2", "resource_created:brief://a", "task_added:1"}},
		{"limit", Query{Limit: 2}, []string{"task_status:1", "task_added:2"}},
		{"by kind", Query{Kind: KindTaskAdded}, []string{"task_added:2", "task_added:1"}},
		{"by subject", Query{Subject: "1"}, []string{"task_status:1", "task_added:1"}},
		{"no match", Query{Kind: KindExternalEdit}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.Recent(ctx, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			got := []string{}
			for _, e := range events {
				got = append(got, e.Kind+":"+e.Subject)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Recent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecord_RequiresKind(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Record(context.Background(), Event{Subject: "x"}); err == nil {
		t.Error("Record without kind should fail")
	}
}

func TestNilStore_IsDisabledJournal(t *testing.T) {
	var s *Store
	if id, err := s.Record(context.Background(), Event{Kind: KindTaskAdded}); id != 0 || err != nil {
		t.Errorf("nil Record = %d, %v", id, err)
	}
	events, err := s.Recent(context.Background(), Query{})
	if err != nil || len(events) != 0 {
		t.Errorf("nil Recent = %v, %v", events, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nil Close = %v", err)
	}
}
