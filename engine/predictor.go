package engine

// PredictorMode selects the active branch-direction predictor. One
// concrete variant handles all four; configuration just switches which
// table Predict/Update consult, matching the capability-set design note
// without the overhead of an interface per mode.
type PredictorMode int

const (
	PredOff PredictorMode = iota
	PredOneBit
	PredTwoBit
	PredTwoLevel
)

func ParsePredictorMode(s string) (PredictorMode, bool) {
	switch s {
	case "off":
		return PredOff, true
	case "onebit":
		return PredOneBit, true
	case "twobit":
		return PredTwoBit, true
	case "twolevel":
		return PredTwoLevel, true
	default:
		return PredOff, false
	}
}

const (
	pht1Bits = 10
	pht1Size = 1 << pht1Bits
	ghrWidth = 8
	pht2Size = 1 << ghrWidth // gshare: low 8 PC bits XOR 8-bit global history
)

// ReturnStackOp records what a fetched instruction did to the RAS, so a
// squash can undo exactly that action. Grounded on the Rust original's
// rs_operation field on each reorder entry.
type ReturnStackOp int

const (
	RasNone ReturnStackOp = iota
	RasPushed
	RasPopped
)

// PredictorToken is carried on every Instruction and captures what a
// squash needs to roll the predictor back to its state immediately before
// this instruction was fetched: the global-history bits (for twolevel) and
// the RAS action taken (for call/return prediction).
type PredictorToken struct {
	GhrBefore    uint8
	Idx          uint16 // table index used for this fetch, so commit updates the same entry
	RasOp        ReturnStackOp
	RasTopBefore int
}

// RAS is a bounded-depth return-address stack. top counts valid entries;
// stack[0:top] holds them, with stack[top-1] the most recently pushed.
type RAS struct {
	stack [32]uint32
	top   int
}

func (r *RAS) push(addr uint32) {
	if r.top < len(r.stack) {
		r.stack[r.top] = addr
		r.top++
	}
}

func (r *RAS) pop() (uint32, bool) {
	if r.top == 0 {
		return 0, false
	}
	r.top--
	return r.stack[r.top], true
}

func (r *RAS) clone() RAS { return *r }

// Predictor is the branch-direction predictor plus optional RAS described
// in spec.md §4.4. Table contents are fixed-size arrays so a Clone is a
// plain value copy, matching the value-semantic snapshotting design note.
type Predictor struct {
	Mode        PredictorMode
	RASEnabled  bool
	oneBit      [pht1Size]bool
	twoBit      [pht1Size]uint8 // 2-bit saturating counter, taken when >= 2
	twoLevel    [pht2Size]uint8
	ghr         uint8
	ras         RAS
}

func NewPredictor(mode PredictorMode, rasEnabled bool) *Predictor {
	p := &Predictor{Mode: mode, RASEnabled: rasEnabled}
	for i := range p.twoBit {
		p.twoBit[i] = 1 // weakly not-taken
	}
	for i := range p.twoLevel {
		p.twoLevel[i] = 1
	}
	return p
}

func (p *Predictor) Clone() *Predictor {
	cp := *p
	return &cp
}

func idx1(pc uint32) uint16 { return uint16((pc >> 2) & (pht1Size - 1)) }

func (p *Predictor) predictDirection(pc uint32) (taken bool, tok PredictorToken) {
	tok.GhrBefore = p.ghr
	switch p.Mode {
	case PredOff:
		return false, tok
	case PredOneBit:
		i := idx1(pc)
		tok.Idx = i
		return p.oneBit[i], tok
	case PredTwoBit:
		i := idx1(pc)
		tok.Idx = i
		return p.twoBit[i] >= 2, tok
	case PredTwoLevel:
		i := uint16((pc>>2)&(pht2Size-1)) ^ uint16(p.ghr)
		tok.Idx = i
		return p.twoLevel[i] >= 2, tok
	default:
		return false, tok
	}
}

// peek inspects the raw word well enough to drive prediction without
// running the full decoder: opcode, rd, rs1 and the statically-known
// branch/JAL immediate. This mirrors how a real front end predicts off a
// BTB/opcode before the decode stage produces operands.
type peeked struct {
	opcode uint32
	rd     uint8
	rs1    uint8
	immB   int32
	immJ   int32
}

func peek(word uint32) peeked {
	return peeked{
		opcode: word & 0x7F,
		rd:     uint8((word >> 7) & 0x1F),
		rs1:    uint8((word >> 15) & 0x1F),
		immB:   immB(word),
		immJ:   immJ(word),
	}
}

// Predict returns the predicted next PC for the word fetched at pc, and a
// token able to undo whatever speculative RAS/history mutation this call
// performed. Tables (the trained PHT counters) are never touched here;
// only the speculative global-history shift register and RAS move, both
// of which Restore can roll back.
func (p *Predictor) Predict(pc uint32, word uint32) (uint32, PredictorToken) {
	pk := peek(word)

	switch pk.opcode {
	case 0x6F: // JAL: unconditional, target fully known
		if p.RASEnabled && pk.rd == 1 {
			tok := PredictorToken{GhrBefore: p.ghr, RasOp: RasPushed, RasTopBefore: p.ras.top}
			p.ras.push(pc + 4)
			return uint32(int32(pc) + pk.immJ), tok
		}
		return uint32(int32(pc) + pk.immJ), PredictorToken{GhrBefore: p.ghr, RasTopBefore: p.ras.top}

	case 0x67: // JALR
		immI12 := signExtend(word>>20, 12)
		if p.RASEnabled && pk.rs1 == 1 && immI12 == 0 {
			tok := PredictorToken{GhrBefore: p.ghr, RasOp: RasPopped, RasTopBefore: p.ras.top}
			if target, ok := p.ras.pop(); ok {
				return target, tok
			}
			return pc + 4, tok
		}
		return pc + 4, PredictorToken{GhrBefore: p.ghr, RasTopBefore: p.ras.top}

	case 0x63: // BRANCH: direction from the active mode
		taken, tok := p.predictDirection(pc)
		tok.RasTopBefore = p.ras.top
		predicted := pc + 4
		if taken {
			predicted = uint32(int32(pc) + pk.immB)
		}
		if p.Mode == PredTwoLevel {
			bit := uint8(0)
			if taken {
				bit = 1
			}
			p.ghr = (p.ghr << 1) | bit
		}
		return predicted, tok

	default:
		return pc + 4, PredictorToken{GhrBefore: p.ghr, RasTopBefore: p.ras.top}
	}
}

// UpdateOnCommit trains the PHT for a resolved conditional branch. Called
// only from commit, never from resolution, so a squashed path never
// trains the table (spec.md §9).
func (p *Predictor) UpdateOnCommit(op Op, taken bool, tok PredictorToken) {
	if !IsConditionalBranch(op) {
		return
	}
	switch p.Mode {
	case PredOff:
		return
	case PredOneBit:
		p.oneBit[tok.Idx] = taken
	case PredTwoBit:
		p.adjustSaturating(&p.twoBit[tok.Idx], taken)
	case PredTwoLevel:
		p.adjustSaturating(&p.twoLevel[tok.Idx], taken)
	}
}

func (p *Predictor) adjustSaturating(counter *uint8, taken bool) {
	if taken {
		if *counter < 3 {
			*counter++
		}
	} else {
		if *counter > 0 {
			*counter--
		}
	}
}

// Restore rolls the speculative GHR and RAS back to the state captured by
// tok, undoing whatever a squashed instruction's fetch-time prediction did.
func (p *Predictor) Restore(tok PredictorToken) {
	p.ghr = tok.GhrBefore
	p.ras.top = tok.RasTopBefore
}
