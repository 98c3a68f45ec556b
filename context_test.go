package udpconn

import (
	"testing"
	"time"

	"github.com/pilotproto/udpconn/config"
)

func TestNewLocalConnectionIDNeverZero(t *testing.T) {
	sc := NewSocketsContext(config.Defaults())
	for i := 0; i < 100; i++ {
		id := sc.newLocalConnectionID()
		if !id.Valid() {
			t.Fatalf("got invalid (zero) connection id on iteration %d", i)
		}
	}
}

func TestNewLocalConnectionIDAvoidsRecentCollisions(t *testing.T) {
	sc := NewSocketsContext(config.Defaults())
	seen := make(map[uint32]bool)
	for i := 0; i < config.MaxRecentLocalConnectionIDs; i++ {
		id := sc.newLocalConnectionID()
		if seen[uint32(id)] {
			t.Fatalf("reissued connection id %d while still in the recent ring", uint32(id))
		}
		seen[uint32(id)] = true
	}
}

type fakeThinkable struct {
	name string
	runs []time.Time
	next time.Time
}

func (f *fakeThinkable) think(now time.Time) time.Time {
	f.runs = append(f.runs, now)
	return f.next
}

func TestRunThinksRunsDueEntriesInDeadlineOrder(t *testing.T) {
	sc := NewSocketsContext(config.Defaults())
	base := time.Unix(1_700_000_000, 0)

	var order []string
	first := &orderRecorder{name: "first", order: &order, next: base.Add(time.Hour)}
	second := &orderRecorder{name: "second", order: &order, next: base.Add(time.Hour)}

	sc.ScheduleThink(second, base.Add(2*time.Second))
	sc.ScheduleThink(first, base.Add(1*time.Second))

	wait := sc.RunThinks(base.Add(3 * time.Second))
	if wait <= 0 {
		t.Fatalf("expected a positive sleep duration after draining due entries, got %v", wait)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second] run order, got %v", order)
	}
}

func TestRunThinksLeavesFutureEntriesAlone(t *testing.T) {
	sc := NewSocketsContext(config.Defaults())
	now := time.Unix(1_700_000_000, 0)

	f := &fakeThinkable{next: now.Add(time.Hour)}
	sc.ScheduleThink(f, now.Add(10*time.Second))

	wait := sc.RunThinks(now)
	if len(f.runs) != 0 {
		t.Fatal("expected a not-yet-due entry to not run")
	}
	if wait > 10*time.Second {
		t.Fatalf("expected wait bounded by the pending deadline, got %v", wait)
	}
}

func TestScheduleThinkReschedulesRatherThanDuplicates(t *testing.T) {
	sc := NewSocketsContext(config.Defaults())
	now := time.Unix(1_700_000_000, 0)

	f := &fakeThinkable{next: now.Add(time.Hour)}
	sc.ScheduleThink(f, now.Add(time.Minute))
	sc.ScheduleThink(f, now.Add(time.Second)) // reschedule earlier

	wait := sc.RunThinks(now.Add(2 * time.Second))
	if len(f.runs) != 1 {
		t.Fatalf("expected exactly one run after rescheduling the same entry, got %d", len(f.runs))
	}
	_ = wait
}

type orderRecorder struct {
	name  string
	order *[]string
	next  time.Time
}

func (o *orderRecorder) think(now time.Time) time.Time {
	*o.order = append(*o.order, o.name)
	return o.next
}
