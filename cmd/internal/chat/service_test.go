package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chattrack/cmd/internal/tally"
	"chattrack/cmd/internal/tracker"
)

type failingStore struct{ tally.Store }

var errStoreDown = errors.New("store down")

func (failingStore) Record(context.Context, tally.RecordInput) (tally.Tally, error) {
	return tally.Tally{}, errStoreDown
}

func newTestService(t *testing.T, st tally.Store) *Service {
	t.Helper()

	tr, err := tracker.New(31)
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	fixed := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc, err := NewService(tr, st, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestService_TerminateRecordsTally(t *testing.T) {
	t.Parallel()

	st := tally.NewInMemoryStore()
	svc := newTestService(t, st)
	ctx := context.Background()

	if err := svc.Join(" ana ", "go"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.Join("ben", "go"); err != nil {
		t.Fatalf("join: %v", err)
	}
	svc.Contribute("ana")
	svc.Contribute("ana")
	svc.Contribute("ben")

	d, err := svc.Leave("ana", "")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !d.Found || d.ChatID != "go" || d.Count != 2 {
		t.Fatalf("Leave()=%+v want found go/2", d)
	}

	term, err := svc.Terminate(ctx, "go")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if term.Total != 3 || term.Tally.ID == "" {
		t.Fatalf("Terminate()=%+v want total 3 with tally id", term)
	}

	hist, err := svc.History(ctx, "go", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.Tallies) != 1 || hist.Tallies[0].Total != 3 {
		t.Fatalf("History()=%+v want one tally of 3", hist)
	}
	if !hist.Tallies[0].TerminatedAt.Equal(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("terminated_at=%v want fixed clock", hist.Tallies[0].TerminatedAt)
	}
}

func TestService_RejectsInvalidIDs(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	cases := []struct {
		name string
		run  func() error
	}{
		{name: "join blank user", run: func() error { return svc.Join("  ", "go") }},
		{name: "join blank chat", run: func() error { return svc.Join("ana", "") }},
		{name: "join control char", run: func() error { return svc.Join("an\x00a", "go") }},
		{name: "join too long", run: func() error { return svc.Join(strings.Repeat("u", MaxIDLen+1), "go") }},
		{name: "contribute blank", run: func() error { _, _, err := svc.Contribute(""); return err }},
		{name: "leave blank user", run: func() error { _, err := svc.Leave("", "go"); return err }},
		{name: "terminate blank", run: func() error { _, err := svc.Terminate(context.Background(), " "); return err }},
		{name: "history blank", run: func() error { _, err := svc.History(context.Background(), "", 1); return err }},
	}

	for _, tc := range cases {
		if err := tc.run(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: err=%v want=%v", tc.name, err, ErrInvalidInput)
		}
	}
}

func TestService_LeaveNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	d, err := svc.Leave("ghost", "nowhere")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if d.Found {
		t.Fatalf("expected not found, got %+v", d)
	}

	c, ok, err := svc.Contribute("ghost")
	if err != nil || ok {
		t.Fatalf("Contribute(ghost)=(%+v,%v,%v) want not found", c, ok, err)
	}
}

func TestService_TerminateTallyFailureKeepsTotal(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, failingStore{})
	if err := svc.Join("ana", "go"); err != nil {
		t.Fatalf("join: %v", err)
	}
	svc.Contribute("ana")

	term, err := svc.Terminate(context.Background(), "go")
	if !errors.Is(err, ErrTally) || !errors.Is(err, errStoreDown) {
		t.Fatalf("err=%v want ErrTally wrapping store error", err)
	}
	if term.Total != 1 {
		t.Fatalf("Total=%d want=1", term.Total)
	}
	if st := svc.Stats(); st.Live != 0 {
		t.Fatalf("chat state must be gone, live=%d", st.Live)
	}
}

func TestNewService_RequiresTracker(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want=%v", err, ErrInvalidInput)
	}
}

func TestService_LeaveBlankChatIsInvalid(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	if err := svc.Join("ana", "go"); err != nil {
		t.Fatalf("join: %v", err)
	}
	svc.Contribute("ana")

	for _, chatID := range []string{"   ", "\t"} {
		d, err := svc.Leave("ana", chatID)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Leave(%q) err=%v want=%v", chatID, err, ErrInvalidInput)
		}
		if d.Found {
			t.Fatalf("Leave(%q)=%+v want zero departure", chatID, d)
		}
	}
	if st := svc.Stats(); st.Live != 1 || st.Departed != 0 {
		t.Fatalf("Stats()=%+v want live=1 departed=0", st)
	}

	d, err := svc.Leave("ana", "")
	if err != nil || !d.Found || d.ChatID != "go" || d.Count != 1 {
		t.Fatalf("Leave(current)=(%+v,%v) want go/1", d, err)
	}
}

func TestService_TerminateUnknownChatWritesNoTally(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newTestService(t, nil)

	for i := 0; i < 3; i++ {
		term, err := svc.Terminate(ctx, "typo")
		if err != nil {
			t.Fatalf("terminate: %v", err)
		}
		if term.Found || term.Total != 0 || term.Tally.ID != "" {
			t.Fatalf("Terminate(typo)=%+v want not found without tally", term)
		}
	}

	hist, err := svc.History(ctx, "typo", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.Tallies) != 0 {
		t.Fatalf("History()=%+v want no tallies", hist)
	}
}

func TestService_TerminateUnknownChatSkipsStore(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, failingStore{})
	term, err := svc.Terminate(context.Background(), "typo")
	if err != nil {
		t.Fatalf("err=%v want=nil", err)
	}
	if term.Found {
		t.Fatalf("Found=%v want=false", term.Found)
	}
}
