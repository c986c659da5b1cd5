package memory

import (
	"fmt"
	"os"
	"unsafe"
)

// ExplicitAllocator manages a single fixed byte region with a 24-byte
// header per block (status|payload, prev, next) and a doubly-linked,
// LIFO free list. It is not safe for concurrent use; callers must
// serialize access externally.
//
// Its zero value is not ready for use: call Init first.
type ExplicitAllocator struct {
	region     []byte
	size       int
	sizeUsed   int
	freeSpace  int
	freeHead   int
	MaxRequest int
}

// Init installs region as the allocator's backing store, writing a
// single free block that spans it and pointing the free list head at it.
// Init fails only if region is nil.
func (a *ExplicitAllocator) Init(region []byte) bool {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "ExplicitAllocator.Init(%d bytes)\n", len(region))
		}()
	}
	if region == nil {
		return false
	}

	a.region = region
	a.size = len(region)
	a.sizeUsed = 0
	a.freeSpace = 0
	a.freeHead = nullOffset
	if a.MaxRequest == 0 {
		a.MaxRequest = DefaultMaxRequest
	}
	if a.size >= explicitHeaderSize {
		payload := a.size - explicitHeaderSize
		writeWord(a.region, 0, encodeHeader(payload, false))
		setPrev(a.region, 0, nullOffset)
		setNext(a.region, 0, nullOffset)
		a.freeHead = 0
		a.freeSpace = a.size
	}
	return true
}

// Malloc returns an 8-aligned payload of n bytes, or nil for n == 0, an
// oversize request, or no fit. A free block exceeding the request by
// more than 24 bytes is split; otherwise it is taken whole.
func (a *ExplicitAllocator) Malloc(n int) (r []byte) {
	if trace {
		defer func() {
			var p *byte
			if len(r) != 0 {
				p = &r[0]
			}
			fmt.Fprintf(os.Stderr, "ExplicitAllocator.Malloc(%#x) %p\n", n, p)
		}()
	}
	if n == 0 {
		return nil
	}

	req := roundup(n)
	if req > a.MaxRequest || a.sizeUsed+explicitHeaderSize+req > a.size {
		return nil
	}

	for off := a.freeHead; off != nullOffset; {
		payload, _ := decodeHeader(readWord(a.region, off))
		next := nextOf(a.region, off)
		if payload < req {
			off = next
			continue
		}

		final := req
		if payload-req > explicitHeaderSize {
			newOff := off + explicitHeaderSize + req
			newPayload := payload - req - explicitHeaderSize
			writeWord(a.region, newOff, encodeHeader(newPayload, false))
			a.listReplace(off, newOff)
		} else {
			final = payload
			a.listUnlink(off)
		}

		writeWord(a.region, off, encodeHeader(final, true))
		a.sizeUsed += explicitHeaderSize + final
		a.freeSpace -= explicitHeaderSize + final

		base := off + explicitHeaderSize
		r = a.region[base : base+n : base+final]
		return r
	}
	return nil
}

// offsetOf returns b's offset into a.region. b must be, or have been
// derived from, a payload slice this allocator previously returned.
func (a *ExplicitAllocator) offsetOf(b []byte) int {
	return int(uintptr(unsafe.Pointer(&b[0])) - uintptr(unsafe.Pointer(&a.region[0])))
}

// Free releases the payload previously returned by Malloc or Realloc. A
// nil or zero-capacity b is a no-op. If the immediate right neighbor is
// free, the freed block is coalesced into it; otherwise it is pushed
// onto the head of the free list.
func (a *ExplicitAllocator) Free(b []byte) {
	if trace {
		var p *byte
		if len(b) != 0 {
			p = &b[0]
		}
		defer func() {
			fmt.Fprintf(os.Stderr, "ExplicitAllocator.Free(%p)\n", p)
		}()
	}
	b = b[:cap(b)]
	if len(b) == 0 {
		return
	}

	off := a.offsetOf(b) - explicitHeaderSize
	payload, _ := decodeHeader(readWord(a.region, off))
	a.sizeUsed -= explicitHeaderSize + payload
	a.freeSpace += explicitHeaderSize + payload

	right := off + explicitHeaderSize + payload
	if right < a.size {
		rightPayload, rightAllocated := decodeHeader(readWord(a.region, right))
		if !rightAllocated {
			merged := payload + explicitHeaderSize + rightPayload
			writeWord(a.region, off, encodeHeader(merged, false))
			a.listReplace(right, off)
			return
		}
	}

	writeWord(a.region, off, encodeHeader(payload, false))
	a.listInsertHead(off)
}

// Realloc resizes the block backing b to n bytes, preserving its
// payload. If the existing payload already covers roundup(n), the block
// is returned unchanged in place and is not shrunk. Otherwise a new
// block is found via the same search used by Malloc, the old payload is
// copied in, and the old block is freed. Realloc(nil, n) behaves as
// Malloc(n); Realloc(p, 0) frees p and returns nil.
func (a *ExplicitAllocator) Realloc(b []byte, n int) (r []byte) {
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
			fmt.Fprintf(os.Stderr, "ExplicitAllocator.Realloc(%p, %#x) %p\n", p0, n, p)
		}()
	}
	switch {
	case cap(b) == 0:
		return a.Malloc(n)
	case n == 0:
		a.Free(b)
		return nil
	}

	off := a.offsetOf(b) - explicitHeaderSize
	payload, _ := decodeHeader(readWord(a.region, off))
	if payload >= roundup(n) {
		base := off + explicitHeaderSize
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
// region, that every payload stays 8-aligned, that every free block
// found on the walk is reachable exactly once from the free list (and
// vice versa), and that every list link is symmetric with its neighbor.
// It reports each violation it finds via dbg/breakHook and returns false
// if there was any; it never mutates state.
func (a *ExplicitAllocator) ValidateHeap() bool {
	ok := true
	usedBytes, freeBytes := 0, 0
	walkedFree := map[int]bool{}

	walk(a.region, explicitHeaderSize, func(off, payload int, allocated bool) bool {
		if payload%alignment != 0 {
			dbg("validate: block at %d has unaligned payload %d", off, payload)
			breakHook()
			ok = false
		}
		if allocated {
			usedBytes += explicitHeaderSize + payload
		} else {
			freeBytes += explicitHeaderSize + payload
			walkedFree[off] = true
		}
		return true
	})

	listFree := map[int]bool{}
	listBytes := 0
	for off, seen, prev := a.freeHead, map[int]bool{}, nullOffset; off != nullOffset; {
		if seen[off] {
			dbg("validate: free list cycles back to %d", off)
			breakHook()
			ok = false
			break
		}
		seen[off] = true

		payload, allocated := decodeHeader(readWord(a.region, off))
		if allocated {
			dbg("validate: allocated block at %d is on the free list", off)
			breakHook()
			ok = false
		}
		if prevOf(a.region, off) != prev {
			dbg("validate: free block at %d has prev link inconsistent with traversal", off)
			breakHook()
			ok = false
		}

		listFree[off] = true
		listBytes += explicitHeaderSize + payload
		prev = off
		off = nextOf(a.region, off)
	}

	if len(listFree) != len(walkedFree) {
		dbg("validate: free-list walk found %d blocks, sequential walk found %d", len(listFree), len(walkedFree))
		breakHook()
		ok = false
	}
	for off := range walkedFree {
		if !listFree[off] {
			dbg("validate: block at %d is free but not on the free list", off)
			breakHook()
			ok = false
		}
	}

	if listBytes != freeBytes {
		dbg("validate: free-list total %d != sequential free total %d", listBytes, freeBytes)
		breakHook()
		ok = false
	}
	if usedBytes != a.sizeUsed {
		dbg("validate: size_used mismatch: tracked %d, walked %d", a.sizeUsed, usedBytes)
		breakHook()
		ok = false
	}
	if freeBytes != a.freeSpace {
		dbg("validate: free_space mismatch: tracked %d, walked %d", a.freeSpace, freeBytes)
		breakHook()
		ok = false
	}
	if a.sizeUsed+a.freeSpace != a.size {
		dbg("validate: size_used %d + free_space %d != region %d", a.sizeUsed, a.freeSpace, a.size)
		breakHook()
		ok = false
	}
	return ok
}

// DumpHeap prints region bounds, usage, and a sequential decoding of
// every block's header (including free-list links where free) to w. It
// is diagnostic-only and never mutates state.
func (a *ExplicitAllocator) DumpHeap(w *os.File) {
	fmt.Fprintf(w, "explicit heap: %d bytes, size_used=%d, free_space=%d, free_list_head=%s\n",
		a.size, a.sizeUsed, a.freeSpace, offsetLabel(a.freeHead))
	walk(a.region, explicitHeaderSize, func(off, payload int, allocated bool) bool {
		if allocated {
			fmt.Fprintf(w, "  [%#06x] payload=%d status=allocated\n", off, payload)
			return true
		}
		fmt.Fprintf(w, "  [%#06x] payload=%d status=free prev=%s next=%s\n",
			off, payload, offsetLabel(prevOf(a.region, off)), offsetLabel(nextOf(a.region, off)))
		return true
	})
}

func offsetLabel(off int) string {
	if off == nullOffset {
		return "nil"
	}
	return fmt.Sprintf("%#06x", off)
}
