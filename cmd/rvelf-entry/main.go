// Command rvelf-entry rewrites the entry address of a RISC-V64 ELF
// binary, the build-time step that patches the init image's e_entry
// before it is embedded into cmd/rvkernel. Adapted from the teacher's
// chentry (kernel/chentry.go): same flag-free <filename> <addr> CLI
// texture, same strtoul-style address parsing, retargeted from
// EM_X86_64/ET_EXEC-only to RISC-V64 and to binaries that may be
// ET_DYN (position-independent init images this core's loader also
// accepts, spec §4.3).
package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"
)

func usage(me string) {
	fmt.Printf("%s <filename> <addr>\n\nChange the ELF entry point of <filename> to <addr>\n", me)
	os.Exit(1)
}

// chkELF validates the ELF file header to ensure we are modifying the
// correct type of binary.  It exits the program if any of the checks
// fail.
func chkELF(eh *elf.FileHeader) {
	// The ELF magic itself is checked by elf.NewFile before this runs.
	if eh.Data != elf.ELFDATA2LSB {
		log.Fatal("not little-endian?")
	}
	if eh.Type != elf.ET_EXEC && eh.Type != elf.ET_DYN {
		log.Fatal("not an executable or PIE elf")
	}
	if eh.Machine != elf.EM_RISCV {
		log.Fatal("not a riscv64 elf")
	}
	if eh.Class != elf.ELFCLASS64 {
		log.Fatal("not a 64 bit elf")
	}
}

func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	addr, err := parseAddr(os.Args[2])
	if err != nil {
		log.Fatal(err)
	}
	if addr>>32 != 0 {
		log.Fatal("entry is above 4GiB; init_elf_base assumptions would perish")
	}
	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	chkELF(&ef.FileHeader)

	fmt.Printf("using address 0x%x\n", addr)
	ef.FileHeader.Entry = addr

	// e_entry sits at byte offset 24 of an ELF64 header.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], addr)
	if _, err := f.WriteAt(buf[:], 24); err != nil {
		log.Fatal(err)
	}
}

// parseAddr converts the supplied string into a uint64 address.  The
// syntax matches that of C's strtoul with a base of 0, allowing both
// decimal and hexadecimal numbers.
func parseAddr(s string) (uint64, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return a, nil
}
