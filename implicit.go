package memory

import (
	"fmt"
	"os"
	"unsafe"
)

// DefaultMaxRequest is the MaxRequest applied by Init when the caller
// leaves MaxRequest at its zero value. It is at least one OS page.
var DefaultMaxRequest = os.Getpagesize()

// minSplitRemainder is the smallest leftover (header + payload) worth
// carving into a trailing free block during a split.
const minSplitRemainder = wordSize + 8

// ImplicitAllocator manages a single fixed byte region with one-word
// in-place headers and first-fit sequential search. It is not safe for
// concurrent use; callers must serialize access externally.
//
// Its zero value is not ready for use: call Init first.
type ImplicitAllocator struct {
	region     []byte
	size       int
	sizeUsed   int
	MaxRequest int
}

// Init installs region as the allocator's backing store, writing a single
// free block that spans it. region's address must be 8-byte aligned (the
// caller's responsibility); Init fails only if region is nil.
//
// Re-Init resets all state and invalidates every outstanding pointer from
// a prior Init.
func (a *ImplicitAllocator) Init(region []byte) bool {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "ImplicitAllocator.Init(%d bytes)\n", len(region))
		}()
	}
	if region == nil {
		return false
	}

	a.region = region
	a.size = len(region)
	a.sizeUsed = 0
	if a.MaxRequest == 0 {
		a.MaxRequest = DefaultMaxRequest
	}
	if a.size >= wordSize {
		writeWord(a.region, 0, encodeHeader(a.size-wordSize, false))
	}
	return true
}

// Malloc returns an 8-aligned payload of n bytes, or nil for n == 0, for
// an oversize request (roundup(n) > MaxRequest), or when the walk finds
// no free block large enough.
func (a *ImplicitAllocator) Malloc(n int) (r []byte) {
	if trace {
		defer func() {
			var p *byte
			if len(r) != 0 {
				p = &r[0]
			}
			fmt.Fprintf(os.Stderr, "ImplicitAllocator.Malloc(%#x) %p\n", n, p)
		}()
	}
	if n == 0 {
		return nil
	}

	req := roundup(n)
	if req > a.MaxRequest || a.sizeUsed+wordSize+req > a.size {
		return nil
	}

	walk(a.region, wordSize, func(off, payload int, allocated bool) bool {
		if allocated || payload < req {
			return true
		}

		final := req
		if payload-req >= minSplitRemainder {
			newOff := off + wordSize + req
			writeWord(a.region, newOff, encodeHeader(payload-req-wordSize, false))
		} else {
			final = payload
		}

		writeWord(a.region, off, encodeHeader(final, true))
		a.sizeUsed += wordSize + final

		base := off + wordSize
		r = a.region[base : base+n : base+final]
		return false
	})
	return r
}

// offsetOf returns b's offset into a.region. b must be, or have been
// derived from, a payload slice this allocator previously returned.
func (a *ImplicitAllocator) offsetOf(b []byte) int {
	return int(uintptr(unsafe.Pointer(&b[0])) - uintptr(unsafe.Pointer(&a.region[0])))
}

// Free releases the payload previously returned by Malloc or Realloc. A
// nil or zero-capacity b is a no-op. Freed memory is not coalesced in the
// implicit variant.
func (a *ImplicitAllocator) Free(b []byte) {
	if trace {
		var p *byte
		if len(b) != 0 {
			p = &b[0]
		}
		defer func() {
			fmt.Fprintf(os.Stderr, "ImplicitAllocator.Free(%p)\n", p)
		}()
	}
	b = b[:cap(b)]
	if len(b) == 0 {
		return
	}

	off := a.offsetOf(b) - wordSize
	payload, _ := decodeHeader(readWord(a.region, off))
	writeWord(a.region, off, encodeHeader(payload, false))
	a.sizeUsed -= wordSize + payload
}

// Realloc resizes the block backing b to n bytes, preserving the first
// min(old payload, n) bytes. Realloc(nil, n) behaves as Malloc(n);
// Realloc(p, 0) frees p and returns nil.
func (a *ImplicitAllocator) Realloc(b []byte, n int) (r []byte) {
	if trace {
		var p0 *byte
		if len(b) != 0 {
			p0 = &b[0]
		}
		defer func() {
			var p *byte
			if len(r) != 0 {
				p = &r[0]
			}
			fmt.Fprintf(os.Stderr, "ImplicitAllocator.Realloc(%p, %#x) %p\n", p0, n, p)
		}()
	}
	switch {
	case cap(b) == 0:
		return a.Malloc(n)
	case n == 0:
		a.Free(b)
		return nil
	}

	off := a.offsetOf(b) - wordSize
	payload, _ := decodeHeader(readWord(a.region, off))
	if payload >= roundup(n) {
		base := off + wordSize
		return a.region[base : base+n : base+payload]
	}

	newB := a.Malloc(n)
	if newB == nil {
		return nil
	}

	copy(newB, b[:payload])
	a.Free(b)
	return newB
}

// ValidateHeap walks the region once, checking that it is walkable end
// to end, that size_used plus free bytes account for every byte of the
// region, and that every payload stays 8-aligned. It reports each
// violation it finds via dbg and breakHook and returns false if there was
// any; it never mutates state.
func (a *ImplicitAllocator) ValidateHeap() bool {
	ok := true
	usedBytes, freeBytes := 0, 0
	walk(a.region, wordSize, func(off, payload int, allocated bool) bool {
		if payload%alignment != 0 {
			dbg("validate: block at %d has unaligned payload %d", off, payload)
			breakHook()
			ok = false
		}
		if allocated {
			usedBytes += wordSize + payload
		} else {
			freeBytes += wordSize + payload
		}
		return true
	})

	if usedBytes != a.sizeUsed {
		dbg("validate: size_used mismatch: tracked %d, walked %d", a.sizeUsed, usedBytes)
		breakHook()
		ok = false
	}
	if usedBytes+freeBytes != a.size {
		dbg("validate: accounting mismatch: used %d + free %d != region %d", usedBytes, freeBytes, a.size)
		breakHook()
		ok = false
	}
	return ok
}

// DumpHeap prints region bounds, usage, and a sequential decoding of
// every block's header to w. It is diagnostic-only and never mutates
// state.
func (a *ImplicitAllocator) DumpHeap(w *os.File) {
	fmt.Fprintf(w, "implicit heap: %d bytes, size_used=%d\n", a.size, a.sizeUsed)
	walk(a.region, wordSize, func(off, payload int, allocated bool) bool {
		fmt.Fprintf(w, "  [%#06x] payload=%d status=%s\n", off, payload, statusLabel(allocated))
		return true
	})
}

func statusLabel(allocated bool) string {
	if allocated {
		return "allocated"
	}
	return "free"
}
