package engine

// RegisterFile is the architectural state: 32 general-purpose registers
// (x0 hardwired to zero, same invariant the teacher's CPU.readReg/writeReg
// enforced) and the program counter.
type RegisterFile struct {
	X  [32]uint32
	PC uint32
}

func (r *RegisterFile) Read(reg uint8) uint32 {
	if reg == 0 {
		return 0
	}
	return r.X[reg]
}

func (r *RegisterFile) Write(reg uint8, v uint32) {
	if reg != 0 {
		r.X[reg] = v
	}
}

func (r *RegisterFile) Clone() RegisterFile { return *r }

// renameSlot names, for one architectural register, the ROB entry that
// will produce its next value. There is no separate physical-register
// pool (see DESIGN.md): a pending tag is simply a ROB sequence number.
type renameSlot struct {
	pending bool
	tag     uint64
}

// RenameMap maps architectural registers to either "read the committed
// architectural value" or "wait on ROB slot tag". x0 never has a pending
// entry, matching the rv32i invariant that writes to it are always dropped.
type RenameMap struct {
	slots [32]renameSlot
}

// Lookup resolves a source operand at dispatch time: either a value ready
// right now, or a tag to wait on in the RSV.
func (m *RenameMap) Lookup(reg uint8, regs *RegisterFile) (value uint32, tag uint64, pending bool) {
	if reg == 0 {
		return 0, 0, false
	}
	s := m.slots[reg]
	if s.pending {
		return 0, s.tag, true
	}
	return regs.Read(reg), 0, false
}

// SetPending records that reg's next value will come from the ROB entry
// with sequence number tag. Called at dispatch for the destination
// register of an instruction that writes one.
func (m *RenameMap) SetPending(reg uint8, tag uint64) {
	if reg == 0 {
		return
	}
	m.slots[reg] = renameSlot{pending: true, tag: tag}
}

// ClearIfOwned drops the pending mapping for reg if and only if it is
// still owned by tag — an older write might already have been superseded
// by a younger dispatch, in which case this call must be a no-op (spec.md
// §3: "commit clears the mapping if and only if the ROB slot still owns it").
func (m *RenameMap) ClearIfOwned(reg uint8, tag uint64) {
	if reg == 0 {
		return
	}
	if m.slots[reg].pending && m.slots[reg].tag == tag {
		m.slots[reg] = renameSlot{}
	}
}

// Rebuild recomputes the whole map from the surviving (post-squash) ROB
// contents, oldest to newest, so the final mapping for each register is
// exactly the one its newest surviving in-flight writer would have left.
func (m *RenameMap) Rebuild(rob *ReorderBuffer) {
	*m = RenameMap{}
	rob.forEachInOrder(func(e *robEntry) {
		if e.uop.HasRd && e.uop.Rd != 0 {
			m.SetPending(e.uop.Rd, e.seq)
		}
	})
}

func (m *RenameMap) Clone() RenameMap { return *m }
