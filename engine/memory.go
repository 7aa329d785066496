package engine

import (
	"encoding/binary"

	"github.com/wippyai/wasm-interp/wasm"
)

// Memory is an instance's linear byte buffer. The length is fixed at
// instantiation (min pages times 64 KiB); memory.grow always reports
// failure. Every access re-checks bounds against the current length
// at the moment of access, never against a cached value.
type Memory struct {
	data []byte
}

func newMemory(minPages uint32) *Memory {
	return &Memory{data: make([]byte, int(minPages)*wasm.PageSize)}
}

// Len returns the memory length in bytes.
func (m *Memory) Len() int { return len(m.data) }

// Pages returns the memory size in 64 KiB pages.
func (m *Memory) Pages() uint32 { return uint32(len(m.data) / wasm.PageSize) }

// Bytes exposes the underlying buffer. The instance owns its memory
// exclusively, so a host function may read and write it directly
// while the instance is not executing.
func (m *Memory) Bytes() []byte { return m.data }

// inBounds reports whether [addr, addr+width) lies inside memory.
// addr is the full effective address (base + offset) in 64-bit space,
// so base+offset overflow cannot wrap back into range.
func (m *Memory) inBounds(addr uint64, width int) bool {
	return addr+uint64(width) <= uint64(len(m.data))
}

func (m *Memory) load8(addr uint64) uint8 { return m.data[addr] }

func (m *Memory) load16(addr uint64) uint16 {
	return binary.LittleEndian.Uint16(m.data[addr:])
}

func (m *Memory) load32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(m.data[addr:])
}

func (m *Memory) load64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(m.data[addr:])
}

func (m *Memory) store8(addr uint64, v uint8) { m.data[addr] = v }

func (m *Memory) store16(addr uint64, v uint16) {
	binary.LittleEndian.PutUint16(m.data[addr:], v)
}

func (m *Memory) store32(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(m.data[addr:], v)
}

func (m *Memory) store64(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(m.data[addr:], v)
}
