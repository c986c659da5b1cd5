package memory

// walk performs the sequential heap traversal shared by both allocators:
// starting at offset 0, it decodes the header at each block and invokes
// visit with the block's offset, payload size and allocation status, then
// steps headerSize+payload bytes to the next header. It stops early if
// visit returns false, and always stops exactly at len(region) on a
// well-formed heap.
//
// visit must not mutate headers ahead of the walk's current position in a
// way that would change payload, or the walk will misstep.
func walk(region []byte, headerSize int, visit func(off, payload int, allocated bool) bool) {
	n := len(region)
	for off := 0; off < n; {
		if off+headerSize > n {
			dbg("walk: header at %d overruns region of length %d", off, n)
			breakHook()
			return
		}

		payload, allocated := decodeHeader(readWord(region, off))
		next := off + headerSize + payload
		if next > n {
			dbg("walk: block at %d (payload %d) overruns region of length %d", off, payload, n)
			breakHook()
			return
		}

		if !visit(off, payload, allocated) {
			return
		}

		off = next
	}
}
