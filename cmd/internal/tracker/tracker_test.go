package tracker

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func mustNew(t *testing.T, buckets int, opts ...Option) *Tracker {
	t.Helper()

	tr, err := New(buckets, opts...)
	if err != nil {
		t.Fatalf("New(%d): %v", buckets, err)
	}
	return tr
}

func liveCount(tr *Tracker, user, chat string) int {
	n := 0
	for _, r := range tr.Snapshot() {
		if r.User == user && r.Chat == chat {
			n++
		}
	}
	return n
}

func TestNew_RejectsNonPositiveBuckets(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -1, -1009} {
		if _, err := New(n); !errors.Is(err, ErrInvalidBuckets) {
			t.Fatalf("New(%d) err=%v want=%v", n, err, ErrInvalidBuckets)
		}
	}
}

func TestJoinLeave_ReturnsContributionsInBetween(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		contributes int
	}{
		{name: "none", contributes: 0},
		{name: "one", contributes: 1},
		{name: "many", contributes: 7},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr := mustNew(t, 17)
			tr.Join("ana", "go")
			for i := 0; i < tc.contributes; i++ {
				tr.Contribute("ana")
			}

			got, ok := tr.Leave("ana", "go")
			if !ok {
				t.Fatalf("expected leave to find membership")
			}
			if got != tc.contributes {
				t.Fatalf("Leave()=%d want=%d", got, tc.contributes)
			}
		})
	}
}

func TestJoin_RejoinCarriesCountForward(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 17)
	tr.Join("ana", "go")
	tr.Contribute("ana")
	tr.Contribute("ana")
	tr.Join("ana", "go")

	if n := liveCount(tr, "ana", "go"); n != 1 {
		t.Fatalf("expected one live record, got %d", n)
	}

	got, ok := tr.Leave("ana", "go")
	if !ok || got != 2 {
		t.Fatalf("Leave()=(%d,%v) want=(2,true)", got, ok)
	}
}

func TestJoin_NeverDuplicatesLiveRecords(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 1)
	for i := 0; i < 5; i++ {
		tr.Join("ana", "go")
		tr.Join("ben", "go")
		tr.Join("ana", "rust")
	}

	if n := liveCount(tr, "ana", "go"); n != 1 {
		t.Fatalf("ana/go live records=%d want=1", n)
	}
	if n := liveCount(tr, "ana", "rust"); n != 1 {
		t.Fatalf("ana/rust live records=%d want=1", n)
	}
	if st := tr.Stats(); st.Live != 3 {
		t.Fatalf("Stats().Live=%d want=3", st.Live)
	}
}

func TestContribute_CreditsMostRecentlyJoinedChat(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 5)
	tr.Join("ana", "c1")
	tr.Join("ana", "c2")

	c, ok := tr.Contribute("ana")
	if !ok {
		t.Fatalf("expected contribution to be credited")
	}
	if c.Chat != "c2" || c.Count != 1 {
		t.Fatalf("Contribute()=%+v want={Chat:c2 Count:1}", c)
	}

	if got, _ := tr.Leave("ana", "c1"); got != 0 {
		t.Fatalf("c1 count=%d want=0", got)
	}
	if got, _ := tr.Leave("ana", "c2"); got != 1 {
		t.Fatalf("c2 count=%d want=1", got)
	}
}

func TestContribute_RejoinMovesCurrentChat(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 5)
	tr.Join("ana", "c1")
	tr.Join("ana", "c2")
	tr.Join("ana", "c1")

	c, ok := tr.Contribute("ana")
	if !ok || c.Chat != "c1" {
		t.Fatalf("Contribute()=(%+v,%v) want chat c1", c, ok)
	}
}

func TestTerminate_CountsLiveAndDeparted(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 3)
	tr.Join("a", "c")
	tr.Join("b", "c")
	tr.Contribute("a")
	tr.Contribute("a")
	tr.Contribute("b")
	tr.Leave("a", "c")

	if got := tr.Terminate("c"); got != 3 {
		t.Fatalf("Terminate()=%d want=3", got)
	}
	if got := tr.Terminate("c"); got != 0 {
		t.Fatalf("second Terminate()=%d want=0", got)
	}

	st := tr.Stats()
	if st.Live != 0 || st.Departed != 0 {
		t.Fatalf("expected empty tracker, got %+v", st)
	}
}

func TestTerminate_LeavesOtherChatsUntouched(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 1)
	tr.Join("a", "keep")
	tr.Join("a", "drop")
	tr.Join("b", "drop")
	tr.Join("b", "keep")
	tr.Contribute("a") // drop
	tr.Contribute("b") // keep
	tr.Contribute("b") // keep
	tr.Leave("a", "drop")
	tr.Join("c", "keep")
	tr.Contribute("c")
	tr.Leave("c", "keep")

	if got := tr.Terminate("drop"); got != 1 {
		t.Fatalf("Terminate(drop)=%d want=1", got)
	}
	for _, r := range tr.Snapshot() {
		if r.Chat == "drop" {
			t.Fatalf("live record for terminated chat survived: %+v", r)
		}
	}
	if got := tr.Terminate("keep"); got != 3 {
		t.Fatalf("Terminate(keep)=%d want=3", got)
	}
}

func TestRejoinAfterLeave_StartsFreshAndKeepsArchive(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 7)
	tr.Join("a", "c")
	tr.Contribute("a")
	tr.Contribute("a")
	tr.Leave("a", "c")

	tr.Join("a", "c")
	c, _ := tr.Contribute("a")
	if c.Count != 1 {
		t.Fatalf("count after rejoin=%d want=1", c.Count)
	}
	tr.Leave("a", "c")

	if d := tr.Departed(); len(d) != 2 {
		t.Fatalf("departed records=%d want=2", len(d))
	}
	if got := tr.Terminate("c"); got != 3 {
		t.Fatalf("Terminate()=%d want=3", got)
	}
}

func TestNotFound_IsExplicit(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 7)

	if n, ok := tr.Leave("ghost", "nowhere"); ok {
		t.Fatalf("Leave(ghost)=(%d,true) want not found", n)
	}
	if chat, n, ok := tr.LeaveCurrent("ghost"); ok {
		t.Fatalf("LeaveCurrent(ghost)=(%q,%d,true) want not found", chat, n)
	}
	if c, ok := tr.Contribute("ghost"); ok {
		t.Fatalf("Contribute(ghost)=(%+v,true) want not found", c)
	}

	tr.Join("zero", "c")
	n, ok := tr.Leave("zero", "c")
	if !ok || n != 0 {
		t.Fatalf("Leave(zero)=(%d,%v) want=(0,true)", n, ok)
	}
}

func TestLeave_WrongChatIsNotFound(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 7)
	tr.Join("a", "c1")

	if _, ok := tr.Leave("a", "c2"); ok {
		t.Fatalf("expected not found for chat the user never joined")
	}
	if liveCount(tr, "a", "c1") != 1 {
		t.Fatalf("membership in c1 must be untouched")
	}
}

func TestLeaveCurrent_UsesCurrentChat(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 7)
	tr.Join("a", "c1")
	tr.Join("a", "c2")
	tr.Contribute("a")

	chat, n, ok := tr.LeaveCurrent("a")
	if !ok || chat != "c2" || n != 1 {
		t.Fatalf("LeaveCurrent()=(%q,%d,%v) want=(c2,1,true)", chat, n, ok)
	}

	c, ok := tr.Contribute("a")
	if !ok || c.Chat != "c1" {
		t.Fatalf("after leaving c2, Contribute()=(%+v,%v) want chat c1", c, ok)
	}
}

func TestLeave_FreezesArchivedCount(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 7)
	tr.Join("a", "c")
	tr.Contribute("a")
	tr.Leave("a", "c")

	if _, ok := tr.Contribute("a"); ok {
		t.Fatalf("departed user must not be credited")
	}
	d := tr.Departed()
	if len(d) != 1 || d[0].Count != 1 {
		t.Fatalf("Departed()=%+v want one record with count 1", d)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Observe(ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func TestObserver_ReceivesEveryOperation(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	tr := mustNew(t, 7, WithObserver(obs))

	tr.Join("a", "c")
	tr.Contribute("a")
	tr.Contribute("nobody")
	tr.Leave("a", "c")
	tr.Terminate("c")

	want := []struct {
		op    string
		found bool
		count int
	}{
		{OpJoin, true, 0},
		{OpContribute, true, 1},
		{OpContribute, false, 0},
		{OpLeave, true, 1},
		{OpTerminate, true, 1},
	}
	if len(obs.events) != len(want) {
		t.Fatalf("events=%d want=%d", len(obs.events), len(want))
	}
	for i, w := range want {
		ev := obs.events[i]
		if ev.Op != w.op || ev.Found != w.found || ev.Count != w.count {
			t.Fatalf("event[%d]=%+v want op=%s found=%v count=%d", i, ev, w.op, w.found, w.count)
		}
	}
	if last := obs.events[len(obs.events)-1]; last.Live != 0 || last.Departed != 0 {
		t.Fatalf("terminate event occupancy=%d/%d want 0/0", last.Live, last.Departed)
	}
}

func TestTracker_ConcurrentUseKeepsTotals(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 31)

	const (
		users = 16
		each  = 50
	)

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		user := string(rune('a' + u))
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Join(user, "room")
			for i := 0; i < each; i++ {
				tr.Contribute(user)
			}
			if u%2 == 0 {
				tr.Leave(user, "room")
			}
		}()
	}
	wg.Wait()

	if got := tr.Terminate("room"); got != users*each {
		t.Fatalf("Terminate()=%d want=%d", got, users*each)
	}
}

func TestTerminateChat_ReportsWhetherChatExisted(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, 7)
	tr.Join("a", "c")
	tr.Join("b", "c")
	tr.Leave("b", "c")

	if total, found := tr.TerminateChat("typo"); total != 0 || found {
		t.Fatalf("TerminateChat(typo)=(%d,%v) want=(0,false)", total, found)
	}
	// A chat whose members never contributed still existed.
	if total, found := tr.TerminateChat("c"); total != 0 || !found {
		t.Fatalf("TerminateChat(c)=(%d,%v) want=(0,true)", total, found)
	}
	if total, found := tr.TerminateChat("c"); total != 0 || found {
		t.Fatalf("second TerminateChat(c)=(%d,%v) want=(0,false)", total, found)
	}
}

func TestObserver_SeesOccupancyInOperationOrder(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	tr := mustNew(t, 31, WithObserver(obs))

	const users = 64
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		user := fmt.Sprintf("u%d", u)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Join(user, "room")
		}()
	}
	wg.Wait()

	if len(obs.events) != users {
		t.Fatalf("events=%d want=%d", len(obs.events), users)
	}
	for i, ev := range obs.events {
		if ev.Live != i+1 {
			t.Fatalf("event[%d].Live=%d want=%d", i, ev.Live, i+1)
		}
	}
}
