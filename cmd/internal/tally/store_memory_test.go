package tally

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStore_RecordAndListNewestFirst(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, total := range []int64{3, 0, 11} {
		if _, err := st.Record(ctx, RecordInput{ChatID: "go", Total: total, Now: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if _, err := st.Record(ctx, RecordInput{ChatID: "rust", Total: 1, Now: base}); err != nil {
		t.Fatalf("record rust: %v", err)
	}

	res, err := st.ListByChat(ctx, ListInput{ChatID: "go", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !res.HasMore {
		t.Fatalf("expected has_more with limit 2 of 3")
	}
	if len(res.Tallies) != 2 || res.Tallies[0].Total != 11 || res.Tallies[1].Total != 0 {
		t.Fatalf("unexpected window: %+v", res.Tallies)
	}
	if res.Tallies[0].ID == "" || len(res.Tallies[0].ID) != 26 {
		t.Fatalf("expected ULID id, got %q", res.Tallies[0].ID)
	}

	res, err = st.ListByChat(ctx, ListInput{ChatID: "go"})
	if err != nil {
		t.Fatalf("list default: %v", err)
	}
	if res.HasMore || len(res.Tallies) != 3 {
		t.Fatalf("default list=%d has_more=%v want 3/false", len(res.Tallies), res.HasMore)
	}
}

func TestInMemoryStore_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()

	cases := []RecordInput{
		{ChatID: "", Total: 1},
		{ChatID: "go", Total: -1},
	}
	for _, in := range cases {
		if _, err := st.Record(ctx, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Record(%+v) err=%v want=%v", in, err, ErrInvalidInput)
		}
	}
	if _, err := st.ListByChat(ctx, ListInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ListByChat(empty) err=%v want=%v", err, ErrInvalidInput)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.Record(ctx, RecordInput{ChatID: "go", Total: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   int
		want int
	}{
		{in: 0, want: defaultListLimit},
		{in: -5, want: defaultListLimit},
		{in: 10, want: 10},
		{in: 10_000, want: maxListLimit},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.in); got != tc.want {
			t.Fatalf("clampLimit(%d)=%d want=%d", tc.in, got, tc.want)
		}
	}
}
