package asm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Symbol is an exported function of an image.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Image is an assembled program: executable text followed by read-only
// data, both at fixed addresses.
type Image struct {
	Entry    uint64
	TextAddr uint64
	Text     []byte
	DataAddr uint64
	Data     []byte
	Symbols  []Symbol
}

// Lookup finds an exported function by name.
func (img *Image) Lookup(name string) (Symbol, bool) {
	for _, s := range img.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

const (
	pageAlign  = 0x1000
	textOffset = pageAlign
)

// section indexes in the emitted file
const (
	shNull = iota
	shText
	shRodata
	shSymtab
	shStrtab
	shShstrtab
	shCount
)

type strtab struct{ buf []byte }

func newStrtab() *strtab { return &strtab{buf: []byte{0}} }

func (s *strtab) add(name string) uint32 {
	off := uint32(len(s.buf))
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, 0)
	return off
}

func padTo(buf *bytes.Buffer, off uint64) {
	for uint64(buf.Len()) < off {
		buf.WriteByte(0)
	}
}

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

// ELF renders the image as a statically linked riscv64 ET_EXEC file with
// one PT_LOAD for text, one for data and a symbol table of the exported
// functions.
func (img *Image) ELF() ([]byte, error) {
	if img.DataAddr < img.TextAddr+uint64(len(img.Text)) {
		return nil, errors.New("asm: data overlaps text")
	}

	dataOffset := textOffset + (img.DataAddr - img.TextAddr)
	dataEnd := dataOffset + uint64(len(img.Data))

	names := newStrtab()
	syms := []elf.Sym64{{}}
	for _, s := range img.Symbols {
		syms = append(syms, elf.Sym64{
			Name:  names.add(s.Name),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: shText,
			Value: s.Addr,
			Size:  s.Size,
		})
	}

	shnames := newStrtab()
	var shname [shCount]uint32
	shname[shText] = shnames.add(".text")
	shname[shRodata] = shnames.add(".rodata")
	shname[shSymtab] = shnames.add(".symtab")
	shname[shStrtab] = shnames.add(".strtab")
	shname[shShstrtab] = shnames.add(".shstrtab")

	symOffset := align8(dataEnd)
	symSize := uint64(len(syms) * elf.Sym64Size)
	strOffset := symOffset + symSize
	shstrOffset := strOffset + uint64(len(names.buf))
	shOffset := align8(shstrOffset + uint64(len(shnames.buf)))

	progs := []elf.Prog64{{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    textOffset,
		Vaddr:  img.TextAddr,
		Paddr:  img.TextAddr,
		Filesz: uint64(len(img.Text)),
		Memsz:  uint64(len(img.Text)),
		Align:  pageAlign,
	}}
	if len(img.Data) > 0 {
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R),
			Off:    dataOffset,
			Vaddr:  img.DataAddr,
			Paddr:  img.DataAddr,
			Filesz: uint64(len(img.Data)),
			Memsz:  uint64(len(img.Data)),
			Align:  pageAlign,
		})
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     64,
		Shoff:     shOffset,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     uint16(len(progs)),
		Shentsize: 64,
		Shnum:     shCount,
		Shstrndx:  shShstrtab,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	sections := [shCount]elf.Section64{
		shText: {
			Name:      shname[shText],
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      img.TextAddr,
			Off:       textOffset,
			Size:      uint64(len(img.Text)),
			Addralign: 4,
		},
		shRodata: {
			Name:      shname[shRodata],
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC),
			Addr:      img.DataAddr,
			Off:       dataOffset,
			Size:      uint64(len(img.Data)),
			Addralign: 8,
		},
		shSymtab: {
			Name:      shname[shSymtab],
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       symOffset,
			Size:      symSize,
			Link:      shStrtab,
			Info:      1,
			Addralign: 8,
			Entsize:   elf.Sym64Size,
		},
		shStrtab: {
			Name:      shname[shStrtab],
			Type:      uint32(elf.SHT_STRTAB),
			Off:       strOffset,
			Size:      uint64(len(names.buf)),
			Addralign: 1,
		},
		shShstrtab: {
			Name:      shname[shShstrtab],
			Type:      uint32(elf.SHT_STRTAB),
			Off:       shstrOffset,
			Size:      uint64(len(shnames.buf)),
			Addralign: 1,
		},
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	write := func(v interface{}) {
		// writes to a bytes.Buffer cannot fail
		_ = binary.Write(&buf, le, v)
	}

	write(&hdr)
	for i := range progs {
		write(&progs[i])
	}
	padTo(&buf, textOffset)
	buf.Write(img.Text)
	padTo(&buf, dataOffset)
	buf.Write(img.Data)
	padTo(&buf, symOffset)
	for i := range syms {
		write(&syms[i])
	}
	buf.Write(names.buf)
	buf.Write(shnames.buf)
	padTo(&buf, shOffset)
	for i := range sections {
		write(&sections[i])
	}
	return buf.Bytes(), nil
}
