package engine

import (
	"debug/elf"
	"fmt"
	"os"
)

// Segment is one (address, bytes) pair to be loaded verbatim into memory,
// the external-collaborator contract of spec.md §6.
type Segment struct {
	Addr  uint32
	Bytes []byte
}

// LoadELF reads PT_LOAD segments the way the teacher's sim/elf.go did, but
// returns the full §6 contract (entry PC plus segments) instead of
// mutating a RAM directly, so the caller decides when and where to apply
// them.
func LoadELF(path string) (entryPC uint32, segments []Segment, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		buf := make([]byte, ph.Memsz)
		if ph.Filesz > 0 {
			if _, err := ph.ReadAt(buf[:ph.Filesz], 0); err != nil {
				return 0, nil, fmt.Errorf("read segment: %w", err)
			}
		}
		segments = append(segments, Segment{Addr: uint32(ph.Vaddr), Bytes: buf})
	}

	return uint32(f.Entry), segments, nil
}

// LoadFlat reads a raw binary image to be placed verbatim at addr, for
// programs with no ELF container (the teacher's "-bin" path).
func LoadFlat(path string, addr uint32) ([]Segment, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []Segment{{Addr: addr, Bytes: buf}}, nil
}
