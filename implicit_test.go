package memory

import (
	"bytes"
	"testing"

	"github.com/cznic/mathutil"
)

func newImplicit(t *testing.T, size int) (*ImplicitAllocator, []byte) {
	region := make([]byte, size)
	a := &ImplicitAllocator{}
	if !a.Init(region) {
		t.Fatalf("Init(%d) failed", size)
	}
	return a, region
}

func TestImplicitInitAndFirstMalloc(t *testing.T) {
	a, _ := newImplicit(t, 1024)

	p := a.Malloc(8)
	if len(p) != 8 {
		t.Fatalf("len(p) = %d, want 8", len(p))
	}

	off := a.offsetOf(p)
	if off != wordSize {
		t.Fatalf("offset = %d, want %d", off, wordSize)
	}
	if a.sizeUsed != wordSize+8 {
		t.Fatalf("sizeUsed = %d, want %d", a.sizeUsed, wordSize+8)
	}
	if !a.ValidateHeap() {
		t.Fatal("ValidateHeap() = false after first malloc")
	}
}

func TestImplicitSplitThresholdNoSplit(t *testing.T) {
	a, _ := newImplicit(t, 1024)
	initial := a.size - wordSize // 1016

	// One 8-byte step short of a split: the leftover after
	// carving req would be wordSize+0, below minSplitRemainder, so the
	// whole block is taken.
	req := initial - (minSplitRemainder - wordSize)
	p := a.Malloc(req)
	if p == nil {
		t.Fatal("Malloc returned nil")
	}
	if a.sizeUsed != wordSize+initial {
		t.Fatalf("sizeUsed = %d, want whole-block consumption %d", a.sizeUsed, wordSize+initial)
	}
	if !a.ValidateHeap() {
		t.Fatal("ValidateHeap() = false")
	}
}

func TestImplicitFreeDoesNotCoalesce(t *testing.T) {
	a, _ := newImplicit(t, 1024)
	x := a.Malloc(16)
	y := a.Malloc(16)
	a.Free(y) // y's right neighbor is the free trailing block.
	a.Free(x) // x's right neighbor (y) is now free.

	xOff := a.offsetOf(x) - wordSize
	payload, allocated := decodeHeader(readWord(a.region, xOff))
	if allocated || payload != 16 {
		t.Fatalf("freed block: payload=%d allocated=%v, want 16/false", payload, allocated)
	}
	if !a.ValidateHeap() {
		t.Fatal("ValidateHeap() = false")
	}
}

func TestImplicitReallocInPlace(t *testing.T) {
	a, _ := newImplicit(t, 1024)
	p := a.Malloc(32)
	usedBefore := a.sizeUsed

	q := a.Realloc(p, 24)
	if &q[0] != &p[0] {
		t.Fatal("Realloc(p, 24) moved the block, want in-place shortcut")
	}
	if a.sizeUsed != usedBefore {
		t.Fatalf("sizeUsed changed on in-place realloc: %d -> %d", usedBefore, a.sizeUsed)
	}
}

func TestImplicitReallocGrowWithCopy(t *testing.T) {
	a, _ := newImplicit(t, 1024)
	p := a.Malloc(16)
	for i := range p {
		p[i] = byte(i)
	}
	// Pin a neighbor so growing p in place is impossible.
	blocker := a.Malloc(16)
	_ = blocker

	q := a.Realloc(p, 64)
	if len(q) != 64 {
		t.Fatalf("len(q) = %d, want 64", len(q))
	}
	if &q[0] == &p[0] {
		t.Fatal("Realloc should have relocated the block")
	}
	if !bytes.Equal(q[:16], []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}) {
		t.Fatalf("q[:16] = %v, want preserved prefix", q[:16])
	}
	if !a.ValidateHeap() {
		t.Fatal("ValidateHeap() = false")
	}
}

func TestImplicitReallocNullAndZero(t *testing.T) {
	a, _ := newImplicit(t, 1024)

	if got := a.Realloc(nil, 16); len(got) != 16 {
		t.Fatalf("Realloc(nil, 16) len = %d, want 16", len(got))
	}

	p := a.Malloc(16)
	if got := a.Realloc(p, 0); got != nil {
		t.Fatalf("Realloc(p, 0) = %v, want nil", got)
	}
}

func TestImplicitMallocZeroAndOversize(t *testing.T) {
	a, _ := newImplicit(t, 1024)
	if got := a.Malloc(0); got != nil {
		t.Fatalf("Malloc(0) = %v, want nil", got)
	}
	if got := a.Malloc(a.MaxRequest + 8); got != nil {
		t.Fatalf("Malloc(oversize) = %v, want nil", got)
	}
}

func TestImplicitExhaustion(t *testing.T) {
	a, _ := newImplicit(t, 4096)
	a.MaxRequest = 256

	var allocs [][]byte
	for {
		p := a.Malloc(a.MaxRequest)
		if p == nil {
			break
		}
		allocs = append(allocs, p)
		if !a.ValidateHeap() {
			t.Fatal("ValidateHeap() = false during exhaustion")
		}
	}
	if len(allocs) == 0 {
		t.Fatal("expected at least one successful allocation before exhaustion")
	}
}

// TestImplicitFuzz drives malloc/free through a deterministic, seekable
// PRNG: allocate a sequence of randomly-sized blocks, fill each with its
// own byte stream, verify the content survives unrelated malloc/free
// traffic, then free everything and check the heap returns to a clean
// state.
func TestImplicitFuzz(t *testing.T) {
	a, _ := newImplicit(t, 1<<16)

	rng, err := mathutil.NewFC32(1, 128, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(42)

	var allocs, wants [][]byte
	for i := 0; i < 200; i++ {
		size := rng.Next()
		p := a.Malloc(size)
		if p == nil {
			continue
		}
		for j := range p {
			p[j] = byte(rng.Next())
		}
		allocs = append(allocs, p)
		wants = append(wants, append([]byte(nil), p...))
		if !a.ValidateHeap() {
			t.Fatalf("ValidateHeap() = false after malloc #%d", i)
		}
	}

	for i, p := range allocs {
		if !bytes.Equal(p, wants[i]) {
			t.Fatal("corrupted heap: live block does not match its recorded contents")
		}
		a.Free(p)
		if !a.ValidateHeap() {
			t.Fatal("ValidateHeap() = false after free")
		}
	}
	if a.sizeUsed != 0 {
		t.Fatalf("sizeUsed = %d after freeing everything, want 0", a.sizeUsed)
	}
}
