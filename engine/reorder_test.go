package engine

import "testing"

func TestReorderBufferAllocateOrderAndWrapAround(t *testing.T) {
	rb := NewReorderBuffer(2)
	s0 := rb.Allocate(Instruction{PC: 0}, false)
	s1 := rb.Allocate(Instruction{PC: 4}, false)
	if s0 != 0 || s1 != 1 {
		t.Fatalf("want seq 0,1 got %d,%d", s0, s1)
	}
	if rb.FreeCapacity() {
		t.Fatal("rob of capacity 2 should be full after 2 allocations")
	}

	rb.Writeback(s0, robResult{Value: 42})
	rb.MarkExecuting(s1)
	head, ok := rb.Head()
	if !ok || head.seq != s0 || head.state != robCompleted {
		t.Fatalf("unexpected head: %+v ok=%v", head, ok)
	}
	rb.RetireHead()

	// slot 0 is free again; a third allocation reuses it under a new
	// absolute sequence number, never aliasing the stale tag s0.
	s2 := rb.Allocate(Instruction{PC: 8}, false)
	if s2 != 2 {
		t.Fatalf("want seq 2 got %d", s2)
	}
	rb.Writeback(s0, robResult{Value: 99}) // stale tag: must be a no-op
	if e := rb.slot(s2); e.seq != s2 || e.result.Value == 99 {
		t.Fatalf("stale writeback corrupted live slot: %+v", e)
	}
}

func TestReorderBufferWritebackAfterSquashIsNoop(t *testing.T) {
	rb := NewReorderBuffer(4)
	a := rb.Allocate(Instruction{}, false)
	b := rb.Allocate(Instruction{}, false)
	rb.SquashAfter(a)
	rb.Writeback(b, robResult{Value: 1}) // b was discarded; must not panic or resurrect
	if rb.Count() != 1 {
		t.Fatalf("want count 1 after squash, got %d", rb.Count())
	}
}

func TestReorderBufferSquashAfterReturnsOldestFirst(t *testing.T) {
	rb := NewReorderBuffer(8)
	keep := rb.Allocate(Instruction{PC: 0}, false)
	rb.Allocate(Instruction{PC: 4}, false)
	rb.Allocate(Instruction{PC: 8}, false)
	discarded := rb.SquashAfter(keep)
	if len(discarded) != 2 {
		t.Fatalf("want 2 discarded, got %d", len(discarded))
	}
	if discarded[0].uop.PC != 4 || discarded[1].uop.PC != 8 {
		t.Fatalf("discarded out of order: %+v", discarded)
	}
	if rb.Count() != 1 {
		t.Fatalf("want count 1 (just the kept entry), got %d", rb.Count())
	}
}

func TestReorderBufferCommitOrderMatchesDispatchOrder(t *testing.T) {
	rb := NewReorderBuffer(4)
	var seqs []uint64
	for i := 0; i < 3; i++ {
		seqs = append(seqs, rb.Allocate(Instruction{PC: uint32(i)}, false))
	}
	// complete out of program order...
	rb.Writeback(seqs[2], robResult{})
	rb.Writeback(seqs[0], robResult{})
	rb.Writeback(seqs[1], robResult{})
	// ...but only the head (seqs[0]) is ever retireable first.
	head, _ := rb.Head()
	if head.seq != seqs[0] {
		t.Fatalf("commit must start at dispatch-order head, got seq %d", head.seq)
	}
}
