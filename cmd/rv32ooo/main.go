package main

import (
	"flag"
	"fmt"
	"os"

	"rv32ooo/engine"
)

func main() {
	elfPath := flag.String("elf", "", "ELF file to load")
	binPath := flag.String("bin", "", "Flat binary to load at -pc (default 0x0)")
	steps := flag.Uint64("cycles", 10_000_000, "Max cycles (0 = unbounded)")
	memKiB := flag.Int("mem", 64, "RAM KiB (kept small: every cycle snapshots the whole image)")
	startPC := flag.Uint("pc", 0, "Override start PC (0 keeps loader entry for -elf, or load address for -bin)")

	alu := flag.Int("alu", engine.DefaultConfig().ALU, "Number of ALUs")
	blu := flag.Int("blu", engine.DefaultConfig().BLU, "Number of branch/jump units")
	mcu := flag.Int("mcu", engine.DefaultConfig().MCU, "Number of memory-control units")
	rsv := flag.Int("rsv", engine.DefaultConfig().RSV, "Reservation station capacity")
	rob := flag.Int("rob", engine.DefaultConfig().ROB, "Reorder buffer capacity")
	nway := flag.Int("n-way", engine.DefaultConfig().NWay, "Fetch/decode/dispatch width")
	issueLimit := flag.Int("issue-limit", 0, "Max issues per cycle (0 = total functional-unit count)")
	predMode := flag.String("branch-prediction", "twobit", "off | onebit | twobit | twolevel")
	returnStack := flag.Bool("return-stack", false, "Enable the call/return address stack")
	replayDepth := flag.Int("replay", 5, "After halting, step backward through this many retained cycles (0 disables)")

	flag.Parse()

	mode, ok := engine.ParsePredictorMode(*predMode)
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown -branch-prediction:", *predMode)
		os.Exit(2)
	}

	cfg := engine.Config{
		ALU: *alu, BLU: *blu, MCU: *mcu,
		RSV: *rsv, ROB: *rob,
		NWay:        *nway,
		IssueLimit:  *issueLimit,
		Predictor:   mode,
		ReturnStack: *returnStack,
	}

	mem := engine.NewMemory(uint32(*memKiB) * 1024)
	eng := engine.NewEngine(cfg, mem, engine.StdoutSink{})

	var entry uint32
	switch {
	case *elfPath != "":
		e, segs, err := engine.LoadELF(*elfPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ELF load error:", err)
			os.Exit(1)
		}
		if err := eng.LoadSegments(segs); err != nil {
			fmt.Fprintln(os.Stderr, "ELF apply error:", err)
			os.Exit(1)
		}
		entry = e
	case *binPath != "":
		addr := uint32(*startPC)
		segs, err := engine.LoadFlat(*binPath, addr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "BIN load error:", err)
			os.Exit(1)
		}
		if err := eng.LoadSegments(segs); err != nil {
			fmt.Fprintln(os.Stderr, "BIN apply error:", err)
			os.Exit(1)
		}
		entry = addr
	default:
		fmt.Fprintln(os.Stderr, "No program provided. Use -elf or -bin.")
		os.Exit(2)
	}

	if *startPC != 0 {
		entry = uint32(*startPC)
	}
	eng.SetPC(entry)

	eng.Run(*steps)

	replaySteps(eng, *replayDepth)

	if cause := eng.HaltCause(); cause != nil {
		if _, ok := cause.(*engine.Exit); !ok {
			fmt.Fprintln(os.Stderr, cause)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "cycles=%d committed=%d mispredictions=%d\n",
		eng.Cycle(), eng.Stats().Committed, eng.Stats().Mispredictions)
}

// replaySteps walks backward through the cycle history from the newest
// retained snapshot, printing architectural PC and commit count at each
// step. depth <= 0 skips the replay; it is clamped to the size of the
// retained window, same as StepBackward's own underflow behavior.
func replaySteps(eng *engine.Engine, depth int) {
	if depth <= 0 {
		return
	}
	latest, ok := eng.History().Latest()
	if !ok {
		return
	}
	fmt.Fprintf(os.Stderr, "replay: last %d retained cycles (of %d)\n", depth, eng.History().Len())
	cycle := latest.Cycle
	for i := 0; i < depth; i++ {
		snap, err := eng.StepBackward(cycle)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay: stopped at cycle %d: %v\n", cycle, err)
			return
		}
		fmt.Fprintf(os.Stderr, "  cycle=%d pc=0x%08x committed=%d halted=%v\n",
			snap.Cycle, snap.Regs.PC, snap.Stats.Committed, snap.Halted)
		if cycle == 0 {
			return
		}
		cycle--
	}
}
