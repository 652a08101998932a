package queue

import "testing"

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := New[int](0); err == nil {
		t.Fatal("expected error for capacity 0")
	}
	if _, err := New[int](-1); err == nil {
		t.Fatal("expected error for negative capacity")
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	r, err := New[int](3)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []int{1, 2, 3} {
		if dropped, _ := r.Enqueue(v); dropped {
			t.Fatalf("unexpected drop enqueuing %d", v)
		}
	}
	for _, want := range []int{1, 2, 3} {
		got, ok := r.Dequeue()
		if !ok || got != want {
			t.Fatalf("dequeue: got (%d, %v), want %d", got, ok, want)
		}
	}
	if _, ok := r.Dequeue(); ok {
		t.Fatal("expected empty ring")
	}
}

func TestEnqueueOverflowDropsOldest(t *testing.T) {
	r, _ := New[int](2)
	r.Enqueue(1)
	r.Enqueue(2)
	dropped, evicted := r.Enqueue(3)
	if !dropped || evicted != 1 {
		t.Fatalf("expected to drop 1, got dropped=%v evicted=%d", dropped, evicted)
	}
	if r.Len() != 2 {
		t.Fatalf("expected len 2, got %d", r.Len())
	}
	got := r.Drain()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected drain order: %v", got)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	r, _ := New[string](2)
	r.Enqueue("a")
	v, ok := r.Peek()
	if !ok || v != "a" {
		t.Fatalf("peek: got (%q, %v)", v, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("expected len 1 after peek, got %d", r.Len())
	}
}

func TestDrainEmptiesAndPreservesOrderAfterWraparound(t *testing.T) {
	r, _ := New[int](3)
	r.Enqueue(1)
	r.Enqueue(2)
	r.Dequeue() // head advances, wraps internal index
	r.Enqueue(3)
	r.Enqueue(4) // forces wraparound in the backing array
	got := r.Drain()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty after drain, got len %d", r.Len())
	}
}
