// Package asm assembles small RV64IM programs in memory. It is enough to
// express the guest fixtures run by the emulator: straight line code,
// branches and calls to labels, pc relative addresses of read-only data.
package asm

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type fixupKind int

const (
	fixBranch fixupKind = iota // B-type at the fixup offset
	fixJump                    // J-type at the fixup offset
	fixPCRel                   // auipc at the offset, I-type right after it
)

type fixup struct {
	kind  fixupKind
	at    int
	label string
}

type label struct {
	data   bool
	offset int
}

type funcMark struct {
	name  string
	start int
}

// Builder accumulates instructions and read-only data. Errors are sticky
// and reported by Assemble.
type Builder struct {
	base   uint64
	text   []byte
	rodata []byte
	labels map[string]label
	funcs  []funcMark
	fixups []fixup
	err    error
}

// DefaultBase is where text is placed unless NewBuilder is told otherwise.
// It matches the load address of statically linked riscv64 executables.
const DefaultBase = 0x10000

// NewBuilder starts a program whose text begins at base.
func NewBuilder(base uint64) *Builder {
	return &Builder{
		base:   base,
		text:   make([]byte, 0, 256),
		labels: make(map[string]label),
	}
}

func (b *Builder) fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *Builder) define(name string, l label) {
	if _, ok := b.labels[name]; ok {
		b.fail(errors.Errorf("asm: label %q defined twice", name))
		return
	}
	b.labels[name] = l
}

// Label marks the current text position.
func (b *Builder) Label(name string) {
	b.define(name, label{offset: len(b.text)})
}

// Func marks the start of an exported function; its size runs to the next
// Func or the end of text.
func (b *Builder) Func(name string) {
	b.Label(name)
	b.funcs = append(b.funcs, funcMark{name: name, start: len(b.text)})
}

// String places s, NUL terminated, in read-only data under name.
func (b *Builder) String(name, s string) {
	b.Bytes(name, append([]byte(s), 0))
}

// Bytes places data in read-only data under name, 8-byte aligned.
func (b *Builder) Bytes(name string, data []byte) {
	for len(b.rodata)%8 != 0 {
		b.rodata = append(b.rodata, 0)
	}
	b.define(name, label{data: true, offset: len(b.rodata)})
	b.rodata = append(b.rodata, data...)
}

// Word emits a raw instruction.
func (b *Builder) Word(insn uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], insn)
	b.text = append(b.text, buf[:]...)
}

func (b *Builder) emit(insn uint32, err error) {
	if err != nil {
		b.fail(err)
		return
	}
	b.Word(insn)
}

func (b *Builder) emitFixup(kind fixupKind, name string, insns ...uint32) {
	b.fixups = append(b.fixups, fixup{kind: kind, at: len(b.text), label: name})
	for _, insn := range insns {
		b.Word(insn)
	}
}

// Len is the current size of text in bytes.
func (b *Builder) Len() int { return len(b.text) }

func (b *Builder) dataBase() uint64 {
	return b.base + (uint64(len(b.text))+0xf)&^0xf
}

func (b *Builder) addr(name string) (uint64, error) {
	l, ok := b.labels[name]
	if !ok {
		return 0, errors.Errorf("asm: undefined label %q", name)
	}
	if l.data {
		return b.dataBase() + uint64(l.offset), nil
	}
	return b.base + uint64(l.offset), nil
}

func (b *Builder) patch(at int, bits uint32) {
	insn := binary.LittleEndian.Uint32(b.text[at:])
	binary.LittleEndian.PutUint32(b.text[at:], insn|bits)
}

func (b *Builder) resolve(f fixup) error {
	target, err := b.addr(f.label)
	if err != nil {
		return err
	}
	pc := b.base + uint64(f.at)
	offset := int64(target - pc)

	switch f.kind {
	case fixBranch:
		bits, err := branchImm(offset)
		if err != nil {
			return errors.Wrapf(err, "asm: branch to %q", f.label)
		}
		b.patch(f.at, bits)
	case fixJump:
		bits, err := jumpImm(offset)
		if err != nil {
			return errors.Wrapf(err, "asm: jump to %q", f.label)
		}
		b.patch(f.at, bits)
	case fixPCRel:
		hi, lo, err := splitPCRel(offset)
		if err != nil {
			return errors.Wrapf(err, "asm: address of %q", f.label)
		}
		b.patch(f.at, (uint32(hi)&0xfffff)<<12)
		b.patch(f.at+4, (uint32(lo)&0xfff)<<20)
	}
	return nil
}

// Assemble resolves every label reference and returns the program image
// with entry as its entry point.
func (b *Builder) Assemble(entry string) (*Image, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, f := range b.fixups {
		if err := b.resolve(f); err != nil {
			return nil, err
		}
	}
	start, err := b.addr(entry)
	if err != nil {
		return nil, errors.Wrap(err, "asm: entry point")
	}

	img := &Image{
		Entry:    start,
		TextAddr: b.base,
		Text:     append([]byte(nil), b.text...),
		DataAddr: b.dataBase(),
		Data:     append([]byte(nil), b.rodata...),
	}
	for i, f := range b.funcs {
		end := len(b.text)
		if i+1 < len(b.funcs) {
			end = b.funcs[i+1].start
		}
		img.Symbols = append(img.Symbols, Symbol{
			Name: f.name,
			Addr: b.base + uint64(f.start),
			Size: uint64(end - f.start),
		})
	}
	return img, nil
}
