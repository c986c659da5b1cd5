// Package memory implements two user-space heap allocators over a single,
// fixed, caller-supplied byte region: ImplicitAllocator, which scans
// in-place headers first-fit, and ExplicitAllocator, which maintains a
// doubly-linked free list with splitting and right-neighbor coalescing.
//
// Neither allocator grows its region, coalesces left, or is safe for
// concurrent use without external synchronization; see the package-level
// doc comments on ImplicitAllocator and ExplicitAllocator for the exact
// contract each one honors.
package memory
