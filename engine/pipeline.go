package engine

// fetchSlot is the cross-cycle latch between fetch and decode: a raw word
// plus the prediction made for it at fetch time.
type fetchSlot struct {
	word   uint32
	pc     uint32
	predPC uint32
	tok    PredictorToken
	fault  error // set when the fetch itself could not read a word
}

// Engine is the pipeline controller of spec.md §4.6: it owns every
// micro-architectural structure and runs the seven stages in the fixed
// order the spec requires, once per Step call.
type Engine struct {
	cfg Config

	mem       *Memory
	regs      RegisterFile
	rename    RenameMap
	predictor *Predictor
	rsv       *ReservationStation
	rob       *ReorderBuffer

	alus []*FunctionalUnit
	blus []*FunctionalUnit
	mcus []*FunctionalUnit

	sink Sink

	fetchQueue  []fetchSlot
	decodeQueue []Instruction
	fetchBufCap int

	inFlightBranches int

	stats     Stats
	cycle     uint64
	halted    bool
	haltCause error

	history *History
}

func NewEngine(cfg Config, mem *Memory, sink Sink) *Engine {
	cfg.Normalize()
	fetchCap := cfg.NWay * 4
	if fetchCap < 8 {
		fetchCap = 8
	}
	e := &Engine{
		cfg:         cfg,
		mem:         mem,
		predictor:   NewPredictor(cfg.Predictor, cfg.ReturnStack),
		rsv:         NewReservationStation(cfg.RSV),
		rob:         NewReorderBuffer(cfg.ROB),
		sink:        sink,
		fetchBufCap: fetchCap,
		history:     NewHistory(DefaultHistoryCapacity),
	}
	for i := 0; i < cfg.ALU; i++ {
		e.alus = append(e.alus, NewFunctionalUnit(UnitALU))
	}
	for i := 0; i < cfg.BLU; i++ {
		e.blus = append(e.blus, NewFunctionalUnit(UnitBLU))
	}
	for i := 0; i < cfg.MCU; i++ {
		e.mcus = append(e.mcus, NewFunctionalUnit(UnitMCU))
	}
	return e
}

func (e *Engine) SetPC(pc uint32)          { e.regs.PC = pc }
func (e *Engine) PC() uint32               { return e.regs.PC }
func (e *Engine) Register(i uint8) uint32  { return e.regs.Read(i) }
func (e *Engine) Memory() *Memory          { return e.mem }
func (e *Engine) Halted() bool             { return e.halted }
func (e *Engine) HaltCause() error         { return e.haltCause }
func (e *Engine) Cycle() uint64            { return e.cycle }
func (e *Engine) Stats() Stats             { return e.stats }
func (e *Engine) History() *History        { return e.history }

// LoadSegments applies loader-supplied segments verbatim to memory.
func (e *Engine) LoadSegments(segs []Segment) error {
	for _, s := range segs {
		if err := e.mem.WriteBytes(s.Addr, s.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the model exactly one clock cycle, running all seven
// stages in the order §4.6 fixes: commit, writeback, execute, issue,
// dispatch, decode, fetch. A no-op once halted.
func (e *Engine) Step() {
	if e.halted {
		return
	}
	e.commitStage()
	if !e.halted {
		e.writebackStage()
		e.executeStage()
		e.issueStage()
		e.dispatchStage()
		e.decodeStage()
		e.fetchStage()
	}
	e.cycle++
	e.snapshot()
}

// Run steps until halted or maxCycles is reached (0 means unbounded).
func (e *Engine) Run(maxCycles uint64) {
	for maxCycles == 0 || e.cycle < maxCycles {
		if e.halted {
			return
		}
		e.Step()
	}
}

func (e *Engine) halt(cause error) {
	e.halted = true
	e.haltCause = cause
}

// --- commit --------------------------------------------------------------

func (e *Engine) commitStage() {
	for i := 0; i < e.cfg.IssueLimit; i++ {
		head, ok := e.rob.Head()
		if !ok || head.state != robCompleted {
			return
		}
		e.retire(head)
		if e.halted {
			return
		}
	}
}

// retire applies one ROB head entry's side effect to architectural state
// and removes it, per spec.md §4.5 commit-head.
func (e *Engine) retire(entry *robEntry) {
	uop := entry.uop
	res := entry.result
	seq := entry.seq

	switch {
	case IsBranchOrJump(uop.Op):
		if uop.HasRd && uop.Rd != 0 {
			e.regs.Write(uop.Rd, res.Value)
			e.rename.ClearIfOwned(uop.Rd, seq)
		}
		e.predictor.UpdateOnCommit(uop.Op, res.Taken, uop.Tok)
		e.rob.RetireHead()
		e.inFlightBranches--
		e.stats.Committed++
		if res.Mispredicted {
			e.squash(seq, res.TruePC)
		}
		return

	case uop.Op == OpECALL:
		a1 := e.regs.Read(11)
		a7 := e.regs.Read(17)
		e.rob.RetireHead()
		e.stats.Committed++
		const exitSentinel = 93
		if a7 == exitSentinel {
			e.halt(&Exit{PC: uop.PC, Code: a1})
			return
		}
		e.sink.Write(byte(a1))
		return

	case uop.Op == OpEBREAK:
		e.rob.RetireHead()
		e.stats.Committed++
		e.halt(&EBreak{PC: uop.PC})
		return

	case uop.Op == OpFENCE:
		e.rob.RetireHead()
		e.stats.Committed++
		return

	default:
		if res.Fault != nil {
			e.rob.RetireHead()
			e.stats.Committed++
			e.halt(res.Fault)
			return
		}
		if _, isStore, _ := memWidth(uop.Op); isStore {
			switch res.MemWidth {
			case 1:
				e.mem.WriteByte(res.MemAddr, uint8(res.MemData))
			case 2:
				e.mem.WriteHalf(res.MemAddr, uint16(res.MemData))
			case 4:
				e.mem.WriteWord(res.MemAddr, res.MemData)
			}
		} else if uop.HasRd && uop.Rd != 0 {
			e.regs.Write(uop.Rd, res.Value)
			e.rename.ClearIfOwned(uop.Rd, seq)
		}
		e.rob.RetireHead()
		e.stats.Committed++
	}
}

// squash discards every entry younger than the mispredicting branch
// (kept at keepSeq) and rewinds every structure that tracked them, per
// spec.md §4.5.
func (e *Engine) squash(keepSeq uint64, truePC uint32) {
	discarded := e.rob.SquashAfter(keepSeq)
	e.rsv.SquashTagsNewerThan(keepSeq)

	for _, u := range e.alus {
		if u.busy && u.robSeq > keepSeq {
			u.Clear()
		}
	}
	for _, u := range e.blus {
		if u.busy && u.robSeq > keepSeq {
			u.Clear()
		}
	}
	for _, u := range e.mcus {
		if u.busy && u.robSeq > keepSeq {
			u.Clear()
		}
	}

	e.rename.Rebuild(e.rob)
	e.regs.PC = truePC
	e.fetchQueue = e.fetchQueue[:0]
	e.decodeQueue = e.decodeQueue[:0]

	branchesDiscarded := 0
	var tok PredictorToken
	foundTok := false
	for _, d := range discarded {
		if !IsBranchOrJump(d.uop.Op) {
			continue
		}
		branchesDiscarded++
		if !foundTok {
			tok = d.uop.Tok
			foundTok = true
		}
	}
	if foundTok {
		e.predictor.Restore(tok)
	}
	e.inFlightBranches -= branchesDiscarded
	e.stats.Mispredictions++
}

// --- writeback -------------------------------------------------------------

func (e *Engine) writebackStage() {
	drain := func(u *FunctionalUnit) {
		res, seq, ok := u.Drain()
		if !ok {
			return
		}
		e.rob.Writeback(seq, res)
		entry := e.rob.slot(seq)
		if entry.valid && entry.seq == seq && res.Fault == nil &&
			entry.uop.HasRd && entry.uop.Rd != 0 {
			e.rsv.Broadcast(seq, res.Value)
		}
	}
	for _, u := range e.alus {
		drain(u)
	}
	for _, u := range e.blus {
		drain(u)
	}
	for _, u := range e.mcus {
		drain(u)
	}
}

// --- execute -------------------------------------------------------------

func (e *Engine) executeStage() {
	for _, u := range e.alus {
		u.Execute()
	}
	for _, u := range e.blus {
		u.Execute()
	}
	for _, u := range e.mcus {
		u.Execute()
	}
}

// --- issue -----------------------------------------------------------------

func (e *Engine) issueStage() {
	issued := 0
	tryKind := func(units []*FunctionalUnit, kind UnitKind, pick func(UnitKind) (rsvEntry, bool)) {
		for _, u := range units {
			if issued >= e.cfg.IssueLimit {
				return
			}
			if !u.Free() {
				continue
			}
			entry, ok := pick(kind)
			if !ok {
				continue
			}
			u.Issue(entry.uop, entry.robSeq, entry.src1.value, entry.src2.value, e.mem)
			e.rob.MarkExecuting(entry.robSeq)
			issued++
		}
		if e.rsv.HasReady(kind) {
			e.stats.IssueStalls++
		}
	}
	tryKind(e.alus, UnitALU, e.rsv.PickOldestReady)
	tryKind(e.blus, UnitBLU, e.rsv.PickOldestReady)
	// MCU issue is in-order, and since a load reads Memory at issue while a
	// store writes it only at commit, a load also waits until every older
	// store has retired (spec.md §8 sequential-equivalence invariant).
	pickMCU := func(kind UnitKind) (rsvEntry, bool) {
		if idx := e.rsv.indexOldestReady(kind); idx != -1 {
			cand := e.rsv.entries[idx]
			blocked := false
			e.rob.forEachInOrder(func(r *robEntry) {
				_, isStore, _ := memWidth(r.uop.Op)
				blocked = blocked || (isStore && r.seq < cand.robSeq)
			})
			if _, _, isLoad := memWidth(cand.uop.Op); isLoad && blocked {
				return rsvEntry{}, false
			}
		}
		return e.rsv.PickOldestReadyInOrder(kind)
	}
	tryKind(e.mcus, UnitMCU, pickMCU)
}

// --- dispatch --------------------------------------------------------------

func (e *Engine) dispatchStage() {
	count := 0
	for count < e.cfg.NWay && len(e.decodeQueue) > 0 {
		uop := e.decodeQueue[0]
		if !e.rob.FreeCapacity() || !e.rsv.FreeCapacity() {
			e.stats.DispatchStalls++
			break
		}

		speculative := e.inFlightBranches > 0
		seq := e.rob.Allocate(uop, speculative)

		// A tag whose producer has already completed was broadcast before
		// this entry existed, so its value is taken from the ROB directly.
		source := func(reg uint8) operand {
			v, tag, pending := e.rename.Lookup(reg, &e.regs)
			if !pending {
				return resolvedOperand(v)
			}
			if p := e.rob.slot(tag); p.valid && p.seq == tag && p.state == robCompleted && p.result.Fault == nil {
				return resolvedOperand(p.result.Value)
			}
			return pendingOperand(tag)
		}
		src1 := resolvedOperand(0)
		if uop.HasRs1 {
			src1 = source(uop.Rs1)
		}
		src2 := resolvedOperand(0)
		if uop.HasRs2 {
			src2 = source(uop.Rs2)
		}

		if uop.HasRd && uop.Rd != 0 {
			e.rename.SetPending(uop.Rd, seq)
		}
		if IsBranchOrJump(uop.Op) {
			e.inFlightBranches++
		}

		e.rsv.Dispatch(uop, seq, src1, src2)
		e.decodeQueue = e.decodeQueue[1:]
		count++
	}
}

// --- decode ------------------------------------------------------------------

func (e *Engine) decodeStage() {
	count := 0
	for count < e.cfg.NWay && len(e.fetchQueue) > 0 {
		slot := e.fetchQueue[0]
		e.fetchQueue = e.fetchQueue[1:]

		var uop Instruction
		if slot.fault != nil {
			uop = Instruction{PC: slot.pc, Op: OpDecodeFault, Fault: slot.fault}
		} else {
			uop = Decode(slot.word, slot.pc)
		}
		uop.PredPC = slot.predPC
		uop.Tok = slot.tok
		e.decodeQueue = append(e.decodeQueue, uop)
		count++
	}
}

// --- fetch -------------------------------------------------------------------

func (e *Engine) fetchStage() {
	count := 0
	for count < e.cfg.NWay {
		if len(e.fetchQueue) >= e.fetchBufCap {
			e.stats.FetchStalls++
			return
		}
		pc := e.regs.PC
		word, ok := e.mem.ReadWord(pc)
		if !ok {
			// A speculative fetch down a path that may yet be squashed
			// must not halt the machine; the fault is carried forward and
			// only raised if this slot survives to commit.
			fault := &MemoryFault{PC: pc, Addr: pc, Width: 4, Cause: "fetch out of bounds or misaligned"}
			e.fetchQueue = append(e.fetchQueue, fetchSlot{pc: pc, predPC: pc + 4, fault: fault})
			e.regs.PC = pc + 4
			e.stats.Fetched++
			count++
			continue
		}
		predPC, tok := e.predictor.Predict(pc, word)
		if word&0x7F == 0x63 {
			e.stats.BranchesPredicted++
		}
		e.fetchQueue = append(e.fetchQueue, fetchSlot{word: word, pc: pc, predPC: predPC, tok: tok})
		e.regs.PC = predPC
		e.stats.Fetched++
		count++
	}
}

// --- snapshotting ------------------------------------------------------------

func (e *Engine) snapshot() {
	e.history.Push(Snapshot{
		Cycle:     e.cycle,
		Regs:      e.regs.Clone(),
		Rename:    e.rename.Clone(),
		Predictor: e.predictor.Clone(),
		ROB:       e.rob.Clone(),
		RSV:       e.rsv.Clone(),
		ALUs:      cloneUnits(e.alus),
		BLUs:      cloneUnits(e.blus),
		MCUs:      cloneUnits(e.mcus),
		Mem:       e.mem.Clone(),
		Stats:     e.stats,
		Halted:    e.halted,
		HaltCause: e.haltCause,
	})
}

// StepBackward returns the retained snapshot for cycle, or a
// HistoryUnderflow if it has fallen out of the window.
func (e *Engine) StepBackward(cycle uint64) (Snapshot, error) {
	return e.history.At(cycle)
}
