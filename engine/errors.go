package engine

import "fmt"

// DecodeFault reports an unrecognised or malformed instruction word.
type DecodeFault struct {
	PC   uint32
	Word uint32
}

func (e *DecodeFault) Error() string {
	return fmt.Sprintf("decode fault at pc=0x%08x word=0x%08x", e.PC, e.Word)
}

// MemoryFault reports an out-of-bounds or misaligned memory access.
type MemoryFault struct {
	PC    uint32
	Addr  uint32
	Width int
	Cause string
}

func (e *MemoryFault) Error() string {
	return fmt.Sprintf("memory fault at pc=0x%08x addr=0x%08x width=%d: %s", e.PC, e.Addr, e.Width, e.Cause)
}

// EBreak reports an EBREAK instruction reaching commit. Always fatal,
// distinguishable from a DecodeFault.
type EBreak struct {
	PC uint32
}

func (e *EBreak) Error() string {
	return fmt.Sprintf("ebreak at pc=0x%08x", e.PC)
}

// Exit reports a clean, requested termination via the sentinel ECALL.
type Exit struct {
	PC   uint32
	Code uint32
}

func (e *Exit) Error() string {
	return fmt.Sprintf("exit ecall at pc=0x%08x code=%d", e.PC, e.Code)
}

// HistoryUnderflow reports a backward step past the retained window.
// Not fatal: the caller's state is unchanged.
type HistoryUnderflow struct {
	Requested uint64
	Oldest    uint64
}

func (e *HistoryUnderflow) Error() string {
	return fmt.Sprintf("history underflow: requested cycle %d, oldest retained is %d", e.Requested, e.Oldest)
}
