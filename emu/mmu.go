package emu

import (
	"fmt"
	"unsafe"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

// Perm represent permissions of memory addresses
type Perm uint8

// Enum of permission variants supported an another variant for keeping
// track of uninitialized memory.
const (
	PERM_READ  Perm = 1 << 0 // read permission
	PERM_WRITE Perm = 1 << 1 // write permission
	PERM_EXEC  Perm = 1 << 2 // executable permission
	PERM_RAW   Perm = 1 << 3 // read-after-write permission

	DIRTY_BLOCK_SIZE = 0x80
)

func (p Perm) String() string {
	b := []byte("----")
	if p&PERM_READ != 0 {
		b[0] = 'r'
	}
	if p&PERM_WRITE != 0 {
		b[1] = 'w'
	}
	if p&PERM_EXEC != 0 {
		b[2] = 'x'
	}
	if p&PERM_RAW != 0 {
		b[3] = 'a'
	}
	return string(b)
}

// VirtAddr is a guest virtual address
type VirtAddr uint64

// MemErrType classifies a failed memory access.
type MemErrType uint8

const (
	ErrOutOfBounds MemErrType = iota
	ErrPermission
)

func (t MemErrType) String() string {
	if t == ErrOutOfBounds {
		return "out of bounds"
	}
	return "permission denied"
}

// MMUError describes a failed guest memory access.
type MMUError struct {
	Kind MemErrType
	Addr VirtAddr
	Size uint
	Perm Perm // the permission the access needed
}

func (e MMUError) Error() string {
	return fmt.Sprintf("mmu: %s: %d bytes at %#x (%s)", e.Kind, e.Size, uint64(e.Addr), e.Perm)
}

// Block maps the start of a modified memory block to its end
type Block = map[VirtAddr]VirtAddr

// Mmu is an isolated memory space
type Mmu struct {
	// memory is blob of memory space available to the system
	memory []uint8

	// access restrictions on individual locations in memory
	permissions []Perm

	// map of modified blocks of memory
	dirty Block

	// tracks the current allocation
	curAlloc VirtAddr
}

// the first address handed out by Allocate on a fresh Mmu
const allocBase = VirtAddr(0x10000)

func NewMmu(size uint) *Mmu {
	return &Mmu{
		memory:      make([]uint8, size),
		permissions: make([]Perm, size),
		dirty:       make(Block),
		curAlloc:    allocBase,
	}
}

// Len is the size of the address space in bytes.
func (m *Mmu) Len() int { return len(m.memory) }

// Reset restores all memory back to the state of other, which must be the
// Mmu this one was forked from.
func (m *Mmu) Reset(other *Mmu) {
	for addr, endAddr := range m.dirty {
		start := int(addr)
		end := int(endAddr)

		// restore memory state
		copy(m.memory[start:end], other.memory[start:end])
		// restore permissions
		copy(m.permissions[start:end], other.permissions[start:end])
	}
	// clear dirty list
	m.dirty = make(Block)
	m.curAlloc = other.curAlloc
}

// Fork an existing Mmu
func (m *Mmu) Fork() *Mmu {
	return &Mmu{
		memory:      append(make([]uint8, 0, len(m.memory)), m.memory...),
		permissions: append(make([]Perm, 0, len(m.permissions)), m.permissions...),
		dirty:       make(Block),
		curAlloc:    m.curAlloc,
	}
}

// Allocate allocates region of memory as RW in the address space. It
// returns 0 when the request cannot be satisfied.
func (m *Mmu) Allocate(size uint) VirtAddr {
	// 16-byte align the allocation
	alignSize := (size + 0xf) &^ 0xf

	// get the base addr
	base := m.curAlloc

	// could not satisfy allocation without going out of memory
	if uint64(base)+uint64(alignSize) > uint64(len(m.memory)) {
		return 0
	}
	m.curAlloc += VirtAddr(alignSize)

	// mark memory as uninitialized and writable
	m.SetPermissions(base, size, PERM_RAW|PERM_WRITE)

	return base
}

// AllocateAt moves the allocation cursor past addr, 16-byte aligned, so
// later allocations do not overlap a region mapped there.
func (m *Mmu) AllocateAt(addr VirtAddr) {
	if aligned := (addr + 0xf) &^ 0xf; aligned > m.curAlloc {
		m.curAlloc = aligned
	}
}

// span checks that [addr, addr+size) lies inside memory.
func (m *Mmu) span(addr VirtAddr, size uint, perm Perm) (int, int, error) {
	end := uint64(addr) + uint64(size)
	if end < uint64(addr) || end > uint64(len(m.memory)) {
		return 0, 0, MMUError{Kind: ErrOutOfBounds, Addr: addr, Size: size, Perm: perm}
	}
	return int(addr), int(end), nil
}

// markDirty records [start, end) in the dirty block map, aligned out to
// DIRTY_BLOCK_SIZE.
func (m *Mmu) markDirty(start, end int) {
	for block := start &^ (DIRTY_BLOCK_SIZE - 1); block < end; block += DIRTY_BLOCK_SIZE {
		blockEnd := block + DIRTY_BLOCK_SIZE
		if blockEnd > len(m.memory) {
			blockEnd = len(m.memory)
		}
		m.dirty[VirtAddr(block)] = VirtAddr(blockEnd)
	}
}

// SetPermissions sets the required permissions on memory locations starting
// from `addr` to `addr+size`
func (m *Mmu) SetPermissions(addr VirtAddr, size uint, perm Perm) error {
	start, end, err := m.span(addr, size, perm)
	if err != nil {
		return err
	}
	for i := start; i < end; i++ {
		m.permissions[i] = perm
	}
	m.markDirty(start, end)
	return nil
}

// Permissions returns the permission of a single address.
func (m *Mmu) Permissions(addr VirtAddr) Perm {
	if uint64(addr) >= uint64(len(m.permissions)) {
		return 0
	}
	return m.permissions[addr]
}

// WriteFrom copies the buffer `buf` into memory checking the necessary
// permission before doing so
func (m *Mmu) WriteFrom(addr VirtAddr, buf []uint8) error {
	start, end, err := m.span(addr, uint(len(buf)), PERM_WRITE)
	if err != nil {
		return err
	}
	perms := m.permissions[start:end]

	hasRAW := false
	for _, p := range perms {
		// check if any part of the memory has is read-after-write
		hasRAW = hasRAW || ((p & PERM_RAW) != 0)

		// check if all perms are set to write
		if (p & PERM_WRITE) == 0 {
			return MMUError{Kind: ErrPermission, Addr: addr, Size: uint(len(buf)), Perm: PERM_WRITE}
		}
	}

	copy(m.memory[start:end], buf)

	// update permissions and allow reading after writing
	if hasRAW {
		for i, p := range perms {
			if (p & PERM_RAW) != 0 {
				perms[i] |= PERM_READ
			}
		}
	}

	m.markDirty(start, end)
	return nil
}

// ReadIntoPerms reads data of `len(buf)` from memory into buf only if the region
// of memory been read has `perm` set on it
func (m *Mmu) ReadIntoPerms(addr VirtAddr, buf []uint8, perm Perm) error {
	start, end, err := m.span(addr, uint(len(buf)), perm)
	if err != nil {
		return err
	}

	for _, p := range m.permissions[start:end] {
		// check if all perms on region of memory is expected perm
		if (p & perm) != perm {
			return MMUError{Kind: ErrPermission, Addr: addr, Size: uint(len(buf)), Perm: perm}
		}
	}

	copy(buf, m.memory[start:end])
	return nil
}

// ReadInto reads data of `len(buf)` from readable memory starting at addr into buf
func (m *Mmu) ReadInto(addr VirtAddr, buf []uint8) error {
	return m.ReadIntoPerms(addr, buf, PERM_READ)
}

// ReadCString reads a NUL terminated string of at most limit bytes from
// readable memory.
func (m *Mmu) ReadCString(addr VirtAddr, limit int) (string, error) {
	var (
		out []byte
		b   = make([]byte, 1)
	)
	for i := 0; i < limit; i++ {
		if err := m.ReadInto(addr+VirtAddr(i), b); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return "", errors.Errorf("mmu: string at %#x longer than %d bytes", uint64(addr), limit)
}

// Inspect dumps size bytes of memory at addr regardless of permissions.
func (m *Mmu) Inspect(addr VirtAddr, size uint) string {
	start, end, err := m.span(addr, size, 0)
	if err != nil {
		return err.Error()
	}
	return spew.Sdump(m.memory[start:end])
}

// InspectPerms renders the permissions of size bytes at addr.
func (m *Mmu) InspectPerms(addr VirtAddr, size uint) string {
	start, end, err := m.span(addr, size, 0)
	if err != nil {
		return err.Error()
	}
	s := ""
	for i := start; i < end; i++ {
		s += fmt.Sprintf("%#x %s\n", i, m.permissions[i])
	}
	return s
}

// Primitive is a generic type consisting of all integer types in go
type Primitive interface {
	uint8 | int8 | uint16 | int16 | uint32 | int32 | uint64 | int64
}

// ValToBytes converts a primitive interger type to sizeof(val) byte slice
func ValToBytes[T Primitive](val T) []byte {
	size := unsafe.Sizeof(val)
	buf := make([]byte, size)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(&val)), size))
	return buf
}

// WriteFromVal allows you to any value in a primitive integer type into
// virtual memory
func WriteFromVal[T Primitive](m *Mmu, addr VirtAddr, val T) error {
	return m.WriteFrom(addr, ValToBytes(val))
}

// ReadIntoValPerms reads sizeof(T) from `addr` and returns the result as
// a primitive integer type Primitive checking the permissions before reading.
func ReadIntoValPerms[T Primitive](m *Mmu, addr VirtAddr, val T, perm Perm) (T, error) {
	buf := make([]byte, unsafe.Sizeof(val))
	err := m.ReadIntoPerms(addr, buf, perm)
	if err != nil {
		return 0, err
	}
	return *(*T)(unsafe.Pointer(&buf[0])), nil
}

// ReadIntoVal reads sizeof(T) from `addr` and returns the result as
// a primitive integer type Primitive
func ReadIntoVal[T Primitive](m *Mmu, addr VirtAddr, val T) (T, error) {
	return ReadIntoValPerms(m, addr, val, PERM_READ)
}
