package ring

import "testing"

func TestRingPushPopOrder(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 4; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d should succeed", i)
		}
	}
	if !r.Full() {
		t.Fatal("expected ring full")
	}
	if r.Push(99) {
		t.Fatal("push into full ring should fail")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
	if !r.Empty() {
		t.Fatal("expected ring empty")
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop from empty ring should fail")
	}
}

func TestRingPeekAt(t *testing.T) {
	r := New[string](3)
	r.Push("a")
	r.Push("b")
	if v, ok := r.PeekAt(1); !ok || v != "b" {
		t.Fatalf("expected PeekAt(1)=b, got %q ok=%v", v, ok)
	}
	if _, ok := r.PeekAt(5); ok {
		t.Fatal("out-of-range PeekAt should fail")
	}
}

func TestRingWrapsCorrectly(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	r.Pop()
	r.Push(3)
	v, _ := r.Pop()
	if v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	v, _ = r.Pop()
	if v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
}
