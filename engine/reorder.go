package engine

// robState is the ROB entry's own lifecycle state (distinct from the
// pipeline controller's "Issue" stage name): issued means "allocated at
// dispatch, not yet bound to a functional unit".
type robState int

const (
	robIssued robState = iota
	robExecuting
	robCompleted
)

// robResult is what writeback deposits into a completed entry: a register
// value, a store's address+payload, or a branch/jump's resolved outcome.
// Exactly one of the three shapes is meaningful, selected by the entry's
// Op via UnitKindOf/IsBranchOrJump.
type robResult struct {
	Value uint32

	MemAddr  uint32
	MemData  uint32
	MemWidth int // 1, 2 or 4; 0 for non-memory ops

	Taken        bool
	TruePC       uint32
	Mispredicted bool

	Fault error
}

type robEntry struct {
	valid       bool
	seq         uint64
	uop         Instruction
	state       robState
	speculative bool
	result      robResult
}

// ReorderBuffer is the fixed-capacity circular FIFO of spec.md §4.5. Slots
// are addressed by an ever-increasing absolute sequence number modulo
// capacity, the same scheme the Rust original's Index/IndexMut used, so a
// stale tag from before a wraparound can never alias a live entry as long
// as count never exceeds capacity (enforced by FreeCapacity).
type ReorderBuffer struct {
	entries  []robEntry
	capacity int
	front    uint64
	nextSeq  uint64
	count    int
}

func NewReorderBuffer(capacity int) *ReorderBuffer {
	return &ReorderBuffer{entries: make([]robEntry, capacity), capacity: capacity}
}

func (rb *ReorderBuffer) slot(seq uint64) *robEntry {
	return &rb.entries[seq%uint64(rb.capacity)]
}

func (rb *ReorderBuffer) FreeCapacity() bool { return rb.count < rb.capacity }

func (rb *ReorderBuffer) Count() int { return rb.count }

// Allocate admits a dispatched micro-op in program order and returns its
// tag (sequence number).
func (rb *ReorderBuffer) Allocate(uop Instruction, speculative bool) uint64 {
	seq := rb.nextSeq
	*rb.slot(seq) = robEntry{valid: true, seq: seq, uop: uop, state: robIssued, speculative: speculative}
	rb.nextSeq++
	rb.count++
	return seq
}

func (rb *ReorderBuffer) MarkExecuting(seq uint64) {
	rb.slot(seq).state = robExecuting
}

func (rb *ReorderBuffer) Writeback(seq uint64, res robResult) {
	e := rb.slot(seq)
	if !e.valid || e.seq != seq {
		return // entry was squashed before its functional unit drained
	}
	e.result = res
	e.state = robCompleted
}

// Head returns the oldest live entry, if any.
func (rb *ReorderBuffer) Head() (*robEntry, bool) {
	if rb.count == 0 {
		return nil, false
	}
	return rb.slot(rb.front), true
}

// RetireHead removes the current head after commit has applied its side
// effects.
func (rb *ReorderBuffer) RetireHead() {
	*rb.slot(rb.front) = robEntry{}
	rb.front++
	rb.count--
}

// forEachInOrder visits every live entry oldest to newest.
func (rb *ReorderBuffer) forEachInOrder(fn func(e *robEntry)) {
	for i := 0; i < rb.count; i++ {
		fn(rb.slot(rb.front + uint64(i)))
	}
}

// SquashAfter discards every entry younger than keepSeq (the mispredicting
// branch itself is kept; everything after it goes). Returns the discarded
// entries oldest-first, so the caller can find the first one that carried
// a predictor token and count discarded branches/jumps.
func (rb *ReorderBuffer) SquashAfter(keepSeq uint64) []robEntry {
	var discarded []robEntry
	for i := 0; i < rb.count; i++ {
		seq := rb.front + uint64(i)
		if seq <= keepSeq {
			continue
		}
		e := rb.slot(seq)
		if e.valid {
			discarded = append(discarded, *e)
			*e = robEntry{}
		}
	}
	rb.nextSeq = keepSeq + 1
	rb.count = int(rb.nextSeq - rb.front)
	return discarded
}

func (rb *ReorderBuffer) Clone() *ReorderBuffer {
	cp := *rb
	cp.entries = make([]robEntry, len(rb.entries))
	copy(cp.entries, rb.entries)
	return &cp
}
