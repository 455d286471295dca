package engine

import "math/bits"

// operand is a reservation-station source: either a resolved value or a
// pending tag naming the ROB entry that will produce it.
type operand struct {
	ready bool
	value uint32
	tag   uint64
}

func resolvedOperand(v uint32) operand { return operand{ready: true, value: v} }
func pendingOperand(tag uint64) operand { return operand{ready: false, tag: tag} }

type rsvEntry struct {
	valid  bool
	uop    Instruction
	robSeq uint64
	kind   UnitKind
	src1   operand
	src2   operand
}

// ReservationStation is the pool of waiting micro-ops from spec.md §4.3.
// Issue-pick enumerates ready entries via a bitmap scanned with
// math/bits.TrailingZeros64, the same bitmap-and-bit-scan idiom
// MaemoWong-SupraX's scheduler prototype uses for its ready mask, adapted
// here from a fixed 32-wide window to a configurable-capacity slice.
type ReservationStation struct {
	capacity int
	entries  []rsvEntry
}

func NewReservationStation(capacity int) *ReservationStation {
	return &ReservationStation{capacity: capacity, entries: make([]rsvEntry, capacity)}
}

func (rs *ReservationStation) FreeCapacity() bool {
	for i := range rs.entries {
		if !rs.entries[i].valid {
			return true
		}
	}
	return false
}

// Dispatch admits a micro-op with already-renamed sources. Returns false
// if the station is full (a dispatch stall).
func (rs *ReservationStation) Dispatch(uop Instruction, robSeq uint64, src1, src2 operand) bool {
	for i := range rs.entries {
		if !rs.entries[i].valid {
			rs.entries[i] = rsvEntry{valid: true, uop: uop, robSeq: robSeq, kind: UnitKindOf(uop.Op), src1: src1, src2: src2}
			return true
		}
	}
	return false
}

// Broadcast resolves every pending source tagged with tag. Called from
// writeback for every completed ROB slot (spec.md §4.3 tag broadcast).
func (rs *ReservationStation) Broadcast(tag uint64, value uint32) {
	for i := range rs.entries {
		e := &rs.entries[i]
		if !e.valid {
			continue
		}
		if !e.src1.ready && e.src1.tag == tag {
			e.src1 = resolvedOperand(value)
		}
		if !e.src2.ready && e.src2.tag == tag {
			e.src2 = resolvedOperand(value)
		}
	}
}

// indexOldestReady returns the index of the oldest valid entry of the
// given kind whose operands are both resolved, or -1 if none. Ready
// entries are enumerated via a bitmap scanned with
// math/bits.TrailingZeros64, the same bitmap-and-bit-scan idiom
// MaemoWong-SupraX's scheduler prototype uses for its ready mask, adapted
// here from a fixed 32-wide window to a configurable-capacity slice.
func (rs *ReservationStation) indexOldestReady(kind UnitKind) int {
	words := (len(rs.entries) + 63) / 64
	bitmap := make([]uint64, words)
	for i, e := range rs.entries {
		if e.valid && e.kind == kind && e.src1.ready && e.src2.ready {
			bitmap[i/64] |= 1 << uint(i%64)
		}
	}

	bestIdx := -1
	var bestSeq uint64
	for w, word := range bitmap {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			word &^= 1 << uint(b)
			idx := w*64 + b
			if bestIdx == -1 || rs.entries[idx].robSeq < bestSeq {
				bestIdx = idx
				bestSeq = rs.entries[idx].robSeq
			}
		}
	}
	return bestIdx
}

// PickOldestReady removes and returns the oldest (lowest ROB sequence
// number) entry of the given kind whose operands are both resolved.
func (rs *ReservationStation) PickOldestReady(kind UnitKind) (rsvEntry, bool) {
	idx := rs.indexOldestReady(kind)
	if idx == -1 {
		return rsvEntry{}, false
	}
	picked := rs.entries[idx]
	rs.entries[idx] = rsvEntry{}
	return picked, true
}

// OldestSeqOfKind returns the lowest ROB sequence number among every
// valid entry of the given kind, ready or not.
func (rs *ReservationStation) OldestSeqOfKind(kind UnitKind) (uint64, bool) {
	any := false
	var best uint64
	for _, e := range rs.entries {
		if e.valid && e.kind == kind && (!any || e.robSeq < best) {
			best = e.robSeq
			any = true
		}
	}
	return best, any
}

// PickOldestReadyInOrder is PickOldestReady restricted to kinds whose
// issue must preserve program order: it only returns the ready entry it
// finds when that entry is also the single oldest entry of that kind in
// the station, ready or not — otherwise it refuses to issue at all, even
// though a younger entry is ready. This is the MCU's in-order issue
// discipline: a store only computes its address and payload at issue and
// defers the Memory write to commit, while a load reads Memory
// immediately at issue, so a younger load must never issue ahead of an
// older store that hasn't yet resolved its data operand — it would read
// memory the store was about to overwrite.
func (rs *ReservationStation) PickOldestReadyInOrder(kind UnitKind) (rsvEntry, bool) {
	oldestSeq, any := rs.OldestSeqOfKind(kind)
	if !any {
		return rsvEntry{}, false
	}
	idx := rs.indexOldestReady(kind)
	if idx == -1 || rs.entries[idx].robSeq != oldestSeq {
		return rsvEntry{}, false
	}
	picked := rs.entries[idx]
	rs.entries[idx] = rsvEntry{}
	return picked, true
}

// SquashTagsNewerThan removes every entry belonging to a discarded ROB
// slot — its own robSeq, since an entry waiting on an older slot's tag is
// unaffected by a squash of younger slots.
func (rs *ReservationStation) SquashTagsNewerThan(keepSeq uint64) {
	for i := range rs.entries {
		if rs.entries[i].valid && rs.entries[i].robSeq > keepSeq {
			rs.entries[i] = rsvEntry{}
		}
	}
}

// HasReady reports whether any entry of the given kind is ready to issue,
// without removing it. Used only for stall accounting.
func (rs *ReservationStation) HasReady(kind UnitKind) bool {
	for _, e := range rs.entries {
		if e.valid && e.kind == kind && e.src1.ready && e.src2.ready {
			return true
		}
	}
	return false
}

func (rs *ReservationStation) Clone() *ReservationStation {
	cp := *rs
	cp.entries = make([]rsvEntry, len(rs.entries))
	copy(cp.entries, rs.entries)
	return &cp
}
