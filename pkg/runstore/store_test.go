package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haivivi/dialogtest/pkg/harness"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(id string, startedAt time.Time) *harness.RunReport {
	return &harness.RunReport{
		ID:         id,
		Name:       "sample",
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Minute),
		Passed:     true,
		Dialogs: []harness.DialogResult{
			{
				ID:     "d",
				Passed: true,
				Turns: []harness.TurnResult{
					{
						Index:  0,
						Input:  "hello",
						Passed: true,
						Replies: []harness.ReplySummary{
							{Type: "message", Text: "hi", Latency: harness.Duration(800 * time.Millisecond)},
						},
						Check: harness.CheckResult{Passed: true},
					},
				},
			},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := sampleReport("run-1", time.Now())
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != want.ID || got.Name != want.Name || !got.Passed {
		t.Fatalf("got %+v", got)
	}
	if len(got.Dialogs) != 1 || len(got.Dialogs[0].Turns) != 1 {
		t.Fatalf("dialogs = %+v", got.Dialogs)
	}
	turn := got.Dialogs[0].Turns[0]
	if turn.Input != "hello" || turn.Replies[0].Text != "hi" {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.Replies[0].Latency.Duration() != 800*time.Millisecond {
		t.Fatalf("latency = %s", turn.Replies[0].Latency)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("startedAt = %s, want %s", got.StartedAt, want.StartedAt)
	}
}

func TestGetUnknown(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveRequiresID(t *testing.T) {
	s := testStore(t)
	if err := s.Save(context.Background(), &harness.RunReport{}); err == nil {
		t.Fatal("expected error for report without ID")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := sampleReport(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour))
		if err := s.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d reports", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartedAt.After(all[i-1].StartedAt) {
			t.Fatalf("reports out of order at %d: %s after %s", i, all[i].StartedAt, all[i-1].StartedAt)
		}
	}

	top, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].ID != "e" || top[1].ID != "d" {
		t.Fatalf("top = %v", []string{top[0].ID, top[1].ID})
	}
}

func TestListDate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{day1, day1.Add(time.Hour), day2} {
		if err := s.Save(ctx, sampleReport(string(rune('a'+i)), ts)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListDate(ctx, day1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("day1 reports = %d, want 2", len(got))
	}
	for _, r := range got {
		if r.StartedAt.UTC().Day() != 10 {
			t.Fatalf("wrong day: %s", r.StartedAt)
		}
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleReport("gone", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("second delete = %v, want nil", err)
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("reports left after delete: %d", len(all))
	}
}
