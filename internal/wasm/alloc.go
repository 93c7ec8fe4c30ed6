package wasm

import "fmt"

// PageSize is the Wasm linear-memory page size in bytes.
const PageSize = 65536

// WordSize is the cell stride of the static layout: every header
// word, closure-cell word and array element is 4 bytes.
const WordSize = 4

// Allocator is the static bump allocator. It hands out disjoint byte
// ranges of linear memory for compile-time-known objects: string
// literals, closure cells and function-pointer slots. Runtime-sized
// objects go through malloc instead.
type Allocator struct {
	mark int
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate reserves n bytes and returns the address of the start of
// the range. The high-water mark is monotonically non-decreasing.
func (a *Allocator) Allocate(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidSize, n)
	}
	addr := a.mark
	a.mark += n
	return addr, nil
}

// AllocateWords reserves n bytes rounded up to a whole number of
// 4-byte words, keeping later cells word-aligned.
func (a *Allocator) AllocateWords(n int) (int, error) {
	rounded := (n + WordSize - 1) / WordSize * WordSize
	return a.Allocate(rounded)
}

// HighWaterMark is the lowest address never handed out.
func (a *Allocator) HighWaterMark() int {
	return a.mark
}

// Pages is the smallest page count covering the high-water mark.
func (a *Allocator) Pages() int {
	return (a.mark + PageSize - 1) / PageSize
}
