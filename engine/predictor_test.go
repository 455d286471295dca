package engine

import "testing"

func TestPredictorTwoBitTrainsTowardTaken(t *testing.T) {
	p := NewPredictor(PredTwoBit, false)
	word := encBEQ(1, 2, 16)
	pc := uint32(0x100)

	for i := 0; i < 3; i++ {
		predicted, tok := p.Predict(pc, word)
		_ = predicted
		p.UpdateOnCommit(OpBEQ, true, tok)
	}
	predicted, _ := p.Predict(pc, word)
	if predicted != pc+16 {
		t.Fatalf("after repeated taken training, predictor should predict taken: got 0x%x", predicted)
	}
}

func TestPredictorUpdateOnCommitNeverCalledForNonBranch(t *testing.T) {
	p := NewPredictor(PredTwoBit, false)
	before := p.twoBit[0]
	p.UpdateOnCommit(OpADD, true, PredictorToken{})
	if p.twoBit[0] != before {
		t.Fatal("UpdateOnCommit must be a no-op for non-branch ops")
	}
}

func TestPredictorRestoreUndoesSpeculativeGhrShift(t *testing.T) {
	p := NewPredictor(PredTwoLevel, false)
	pc := uint32(0x200)
	word := encBEQ(1, 2, 16)

	// A fresh predictor guesses not-taken, and shifting a 0 into an all-zero
	// ghr would leave it unchanged, so start from a non-zero history.
	p.ghr = 0x01
	ghrBefore := p.ghr
	_, tok := p.Predict(pc, word)
	if p.ghr == ghrBefore {
		t.Fatal("two-level mode must speculatively shift ghr at fetch time")
	}
	p.Restore(tok)
	if p.ghr != ghrBefore {
		t.Fatalf("Restore must roll ghr back to its pre-fetch value: got %d want %d", p.ghr, ghrBefore)
	}
}

func TestPredictorRASRoundTrip(t *testing.T) {
	p := NewPredictor(PredTwoBit, true)
	jal := encJAL(1, 64) // JAL ra, +64: pushes return address
	predicted, _ := p.Predict(0x400, jal)
	if predicted != 0x440 {
		t.Fatalf("want predicted target 0x440, got 0x%x", predicted)
	}
	if p.ras.top != 1 {
		t.Fatalf("JAL ra should push onto the RAS, top=%d", p.ras.top)
	}

	jalr := encI(0x67, 0, 0x0, 1, 0) // JALR x0, 0(x1): predicted return
	predicted, _ = p.Predict(0x440, jalr)
	if predicted != 0x404 {
		t.Fatalf("want predicted return address 0x404, got 0x%x", predicted)
	}
	if p.ras.top != 0 {
		t.Fatalf("JALR return should pop the RAS, top=%d", p.ras.top)
	}
}

func TestPredictorOffModeAlwaysPredictsNotTaken(t *testing.T) {
	p := NewPredictor(PredOff, false)
	pc := uint32(0x10)
	word := encBEQ(1, 2, 16)
	for i := 0; i < 5; i++ {
		_, tok := p.Predict(pc, word)
		p.UpdateOnCommit(OpBEQ, true, tok)
	}
	predicted, _ := p.Predict(pc, word)
	if predicted != pc+4 {
		t.Fatalf("off mode must never predict taken, got 0x%x", predicted)
	}
}
