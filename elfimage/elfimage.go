// Package elfimage is the concrete parsed-ELF view spec.md §6 names only as
// an external collaborator ("The ELF parser is also external; the spec
// consumes a parsed view"). It wraps the standard library's debug/elf,
// already the library the teacher's own kernel/chentry.go tool uses,
// exposing exactly the fields MemorySet.MapELF needs: program headers,
// RELA entries, and dynamic symbols.
package elfimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Relocation type numbers this core understands, spec §4.3 step 4. These
// match the RISC-V psABI values arceos's axmem::lib relies on, not the
// generic debug/elf relocation constants (which are per-machine and do not
// all expose RISC-V numbering under those names).
const (
	RGot            = 6
	RPlt            = 7
	RRiscv64        = 2
	RRelative       = 8
	RRiscvRelative  = 3
	RPltJumpSlot    = 5
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// ProgHeader is the subset of an ELF program header MapELF consumes.
type ProgHeader struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Vaddr  uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64
	data   []byte
}

// Data returns the on-disk bytes for this segment (length Filesz).
func (p ProgHeader) Data() []byte { return p.data }

// Rela is one RELA relocation entry: offset, info (symbol index << 32 |
// type), and addend.
type Rela struct {
	Offset uint64
	Sym    uint32
	Type   uint32
	Addend int64
}

// Image is the parsed view of one ELF file.
type Image struct {
	Entry   uint64
	Headers []ProgHeader
	RelaDyn []Rela
	RelaPlt []Rela
	Dynsym  []elf.Symbol
	Interp  string // "" if no PT_INTERP segment
	raw     []byte
}

// Parse validates the ELF magic and builds an Image from raw bytes.
// Returns an error for anything debug/elf itself rejects or that isn't a
// RISC-V64 ELF; this core never attempts to load anything else.
func Parse(raw []byte) (*Image, error) {
	if len(raw) < 4 || !bytes.Equal(raw[:4], elfMagic) {
		return nil, fmt.Errorf("elfimage: bad magic")
	}
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("elfimage: %w", err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elfimage: not a RISC-V64 ELF")
	}

	img := &Image{Entry: f.Entry, raw: raw}

	for _, ph := range f.Progs {
		h := ProgHeader{
			Type:   ph.Type,
			Flags:  ph.Flags,
			Vaddr:  ph.Vaddr,
			Offset: ph.Off,
			Filesz: ph.Filesz,
			Memsz:  ph.Memsz,
		}
		if h.Type == elf.PT_LOAD && h.Filesz > 0 {
			if h.Offset+h.Filesz > uint64(len(raw)) {
				return nil, fmt.Errorf("elfimage: segment exceeds file size")
			}
			h.data = raw[h.Offset : h.Offset+h.Filesz]
		}
		if h.Type == elf.PT_INTERP && h.Filesz > 0 {
			text := raw[h.Offset : h.Offset+h.Filesz]
			img.Interp = string(bytes.TrimRight(text, "\x00"))
		}
		img.Headers = append(img.Headers, h)
	}

	if syms, err := f.DynamicSymbols(); err == nil {
		img.Dynsym = syms
	}

	if sec := f.Section(".rela.dyn"); sec != nil {
		img.RelaDyn, err = parseRela(sec)
		if err != nil {
			return nil, err
		}
	}
	if sec := f.Section(".rela.plt"); sec != nil {
		img.RelaPlt, err = parseRela(sec)
		if err != nil {
			return nil, err
		}
	}

	return img, nil
}

func parseRela(sec *elf.Section) ([]Rela, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	const entsz = 24 // Elf64_Rela: r_offset, r_info, r_addend, 8 bytes each
	if len(data)%entsz != 0 {
		return nil, fmt.Errorf("elfimage: malformed rela section")
	}
	out := make([]Rela, 0, len(data)/entsz)
	for i := 0; i+entsz <= len(data); i += entsz {
		off := binary.LittleEndian.Uint64(data[i:])
		info := binary.LittleEndian.Uint64(data[i+8:])
		addend := int64(binary.LittleEndian.Uint64(data[i+16:]))
		out = append(out, Rela{
			Offset: off,
			Sym:    uint32(info >> 32),
			Type:   uint32(info),
			Addend: addend,
		})
	}
	return out, nil
}
