package lanebuffer

import (
	"testing"

	"github.com/relaytide/edgegateway/internal/bus"
)

func msg(id string, lane bus.Lane) bus.LaneMessage {
	return bus.LaneMessage{ID: id, Lane: lane, ChannelID: "node-1"}
}

func TestScenarioS1PriorityAndFIFO(t *testing.T) {
	b := New(256)
	b.Dispatch(msg("f1", bus.LaneFollowup))
	b.Dispatch(msg("s1", bus.LaneSteer))
	b.Dispatch(msg("c1", bus.LaneCollect))
	b.Dispatch(msg("s2", bus.LaneSteer))
	b.Dispatch(msg("f2", bus.LaneFollowup))
	b.Dispatch(msg("c2", bus.LaneCollect))

	got := b.Drain()
	want := []string{"s1", "s2", "c1", "c2", "f1", "f2"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ID != w {
			t.Fatalf("drain[%d] = %s, want %s (full: %v)", i, got[i].ID, w, idsOf(got))
		}
	}
}

func TestScenarioS2GlobalOverflowDropOldest(t *testing.T) {
	b := New(2)
	b.Dispatch(msg("s1", bus.LaneSteer))
	b.Dispatch(msg("c1", bus.LaneCollect))

	var dropped []bus.OverflowEvent
	dispose := b.OnOverflow(func(ev bus.OverflowEvent) { dropped = append(dropped, ev) })
	defer dispose()

	b.Dispatch(msg("f1", bus.LaneFollowup))

	if len(dropped) != 1 || dropped[0].Message.ID != "s1" {
		t.Fatalf("expected s1 dropped, got %v", dropped)
	}
	got := b.Drain()
	want := []string{"c1", "f1"}
	for i, w := range want {
		if got[i].ID != w {
			t.Fatalf("drain = %v, want %v", idsOf(got), want)
		}
	}
}

func TestInterruptBypassesQueue(t *testing.T) {
	b := New(10)
	var fired []bus.LaneMessage
	dispose := b.OnInterrupt(func(m bus.LaneMessage) { fired = append(fired, m) })
	defer dispose()

	b.Dispatch(msg("i1", bus.LaneInterrupt))

	if len(fired) != 1 || fired[0].ID != "i1" {
		t.Fatalf("expected interrupt handler to fire with i1, got %v", fired)
	}
	if b.TotalQueued() != 0 {
		t.Fatalf("interrupt message must not be queued, totalQueued=%d", b.TotalQueued())
	}
}

func TestDisposerIsIndependentPerSubscriber(t *testing.T) {
	b := New(10)
	var a, bCount int
	disposeA := b.OnInterrupt(func(bus.LaneMessage) { a++ })
	b.OnInterrupt(func(bus.LaneMessage) { bCount++ })

	disposeA()
	b.Dispatch(msg("i1", bus.LaneInterrupt))

	if a != 0 {
		t.Fatalf("disposed handler A fired: a=%d", a)
	}
	if bCount != 1 {
		t.Fatalf("handler B should still fire: bCount=%d", bCount)
	}
}

func idsOf(msgs []bus.LaneMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
